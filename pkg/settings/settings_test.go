package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pearlsync/pkg/config"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "settings.db"))
	require.NoError(t, err)
	return s
}

func TestBoltStoreDefaults(t *testing.T) {
	s := newTestStore(t)

	conn, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConnection(), *conn)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = s.Get(config.KeyServerAddress)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStorePutGet(t *testing.T) {
	s := newTestStore(t)

	values := map[string]string{
		config.KeyServerAddress: "mqtt.example.com",
		config.KeyPort:          "1883",
		config.KeyEnableSSL:     "false",
		config.KeyUsername:      "alice",
		config.KeyPassword:      "pw",
		config.KeySecretKey:     "s3cr3t",
		config.KeyTopic:         "clips",
	}
	for k, v := range values {
		require.NoError(t, s.Put(k, v), k)
	}

	for k, v := range values {
		got, err := s.Get(k)
		require.NoError(t, err, k)
		assert.Equal(t, v, got, k)
	}

	conn, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "mqtt.example.com", conn.ServerAddress)
	assert.Equal(t, 1883, conn.Port)
	assert.False(t, conn.UseTLS)
	assert.Equal(t, "alice", conn.Username)
	assert.Equal(t, "pw", conn.Password)
	assert.Equal(t, "s3cr3t", conn.Secret)
	assert.Equal(t, "clips", conn.Topic)
	assert.NoError(t, conn.Validate())

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, len(values))
}

func TestBoltStoreRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	assert.ErrorIs(t, s.Put(config.KeyPort, "eighty"), config.ErrConfiguration)
	assert.ErrorIs(t, s.Put("color", "blue"), config.ErrConfiguration)
	assert.ErrorIs(t, s.Delete("color"), config.ErrConfiguration)
}

func TestBoltStoreDelete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put(config.KeyTopic, "custom"))
	require.NoError(t, s.Delete(config.KeyTopic))

	conn, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTopic, conn.Topic)
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(config.KeySecretKey, "persisted"))

	again, err := NewBoltStore(path)
	require.NoError(t, err)
	got, err := again.Get(config.KeySecretKey)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}

func TestOverlay(t *testing.T) {
	base := newTestStore(t)
	require.NoError(t, base.Put(config.KeyServerAddress, "stored.example.com"))
	require.NoError(t, base.Put(config.KeyTopic, "stored-topic"))

	o := NewOverlay(base, map[string]string{
		config.KeyTopic:     "flag-topic",
		config.KeySecretKey: "flag-secret",
	})

	conn, err := o.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "stored.example.com", conn.ServerAddress)
	assert.Equal(t, "flag-topic", conn.Topic)
	assert.Equal(t, "flag-secret", conn.Secret)

	// Store edits show up on the next snapshot.
	require.NoError(t, base.Put(config.KeyServerAddress, "edited.example.com"))
	conn, err = o.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "edited.example.com", conn.ServerAddress)
}

type failingStore struct{}

func (failingStore) Snapshot() (*config.Connection, error) {
	return nil, errors.New("boom")
}

func TestOverlayErrors(t *testing.T) {
	_, err := NewOverlay(failingStore{}, nil).Snapshot()
	assert.EqualError(t, err, "boom")

	_, err = NewOverlay(nil, map[string]string{config.KeyPort: "x"}).Snapshot()
	assert.ErrorIs(t, err, config.ErrConfiguration)

	conn, err := NewOverlay(nil, nil).Snapshot()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConnection(), *conn)
}

func TestStatic(t *testing.T) {
	conn := config.DefaultConnection()
	conn.ServerAddress = "static"

	s := NewStatic(conn)
	got, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "static", got.ServerAddress)

	// Snapshots are copies.
	got.ServerAddress = "mutated"
	again, _ := s.Snapshot()
	assert.Equal(t, "static", again.ServerAddress)
}
