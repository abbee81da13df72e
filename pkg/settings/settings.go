// Package settings provides the key-value store holding broker connection
// settings between runs.
//
// Storage:
//
// BoltStore keeps one bucket, "settings", in a bbolt database. Each key is
// a setting name such as "serverAddress" or "port" and each value is the
// CBOR encoding of the typed setting (text, integer or boolean). Keys that
// were never written fall back to the connection defaults.
//
// The database file is opened per operation and closed immediately, so the
// settings command can edit it while the daemon is running. The daemon
// re-reads the store every time a sync session starts.
//
// Composition:
//
// Overlay layers explicit values (from flags, environment or a config
// file) over another store. Static wraps a fixed connection for tests and
// for running without a database.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/Veraticus/pearlsync/pkg/config"
)

const (
	settingsBucket = "settings"
	metadataBucket = "metadata"
	versionKey     = "version"
	schemaVersion  = 1

	openTimeout = 2 * time.Second
)

// ErrNotFound is returned by Get for keys that were never stored.
var ErrNotFound = errors.New("settings: key not found")

// Store supplies a read-only snapshot of the connection settings.
type Store interface {
	Snapshot() (*config.Connection, error)
}

// BoltStore is a Store backed by a bbolt database file.
type BoltStore struct {
	path string
}

// NewBoltStore creates the database at path if needed and returns a store
// for it.
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("settings: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("settings: create directory: %w", err)
	}

	s := &BoltStore{path: path}
	err := s.update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(settingsBucket)); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if raw := meta.Get([]byte(versionKey)); raw != nil {
			var v int
			if err := cbor.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("settings: corrupt version: %w", err)
			}
			if v != schemaVersion {
				return fmt.Errorf("settings: incompatible version %d", v)
			}
			return nil
		}
		raw, err := cbor.Marshal(schemaVersion)
		if err != nil {
			return err
		}
		return meta.Put([]byte(versionKey), raw)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

func (s *BoltStore) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: openTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("settings: open %s: %w", s.path, err)
	}
	return db, nil
}

func (s *BoltStore) view(fn func(tx *bolt.Tx) error) error {
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (s *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

// Put validates value for key and stores it.
func (s *BoltStore) Put(key, value string) error {
	raw, err := encodeValue(key, value)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(key), raw)
	})
}

// Get returns the stored string form of key, or ErrNotFound.
func (s *BoltStore) Get(key string) (string, error) {
	var value string
	err := s.view(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(settingsBucket)).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		var err error
		value, err = decodeValue(key, raw)
		return err
	})
	return value, err
}

// Delete removes key so it falls back to its default.
func (s *BoltStore) Delete(key string) error {
	if _, err := (&config.Connection{}).Get(key); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Delete([]byte(key))
	})
}

// Keys returns the stored keys in sorted order.
func (s *BoltStore) Keys() ([]string, error) {
	var keys []string
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	sort.Strings(keys)
	return keys, err
}

// Snapshot returns the defaults with every stored setting applied.
func (s *BoltStore) Snapshot() (*config.Connection, error) {
	conn := config.DefaultConnection()
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).ForEach(func(k, raw []byte) error {
			key := string(k)
			value, err := decodeValue(key, raw)
			if err != nil {
				return err
			}
			return conn.Set(key, value)
		})
	})
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// encodeValue parses value according to the type of key and returns its
// CBOR encoding.
func encodeValue(key, value string) ([]byte, error) {
	var probe config.Connection
	if err := probe.Set(key, value); err != nil {
		return nil, err
	}

	switch key {
	case config.KeyPort:
		return cbor.Marshal(probe.Port)
	case config.KeyEnableSSL:
		return cbor.Marshal(probe.UseTLS)
	case config.KeyInsecureSkipVerify:
		return cbor.Marshal(probe.InsecureSkipVerify)
	default:
		v, _ := probe.Get(key)
		return cbor.Marshal(v)
	}
}

func decodeValue(key string, raw []byte) (string, error) {
	switch key {
	case config.KeyPort:
		var n int
		if err := cbor.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("settings: decode %s: %w", key, err)
		}
		return strconv.Itoa(n), nil
	case config.KeyEnableSSL, config.KeyInsecureSkipVerify:
		var b bool
		if err := cbor.Unmarshal(raw, &b); err != nil {
			return "", fmt.Errorf("settings: decode %s: %w", key, err)
		}
		return strconv.FormatBool(b), nil
	default:
		var s string
		if err := cbor.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("settings: decode %s: %w", key, err)
		}
		return s, nil
	}
}

// Overlay applies explicit values over a base store. Values are in the
// string form accepted by config.Connection.Set.
type Overlay struct {
	base      Store
	overrides map[string]string
}

// NewOverlay returns a store whose snapshots are base snapshots with
// overrides applied. A nil base starts from the defaults.
func NewOverlay(base Store, overrides map[string]string) *Overlay {
	copied := make(map[string]string, len(overrides))
	for k, v := range overrides {
		copied[k] = v
	}
	return &Overlay{base: base, overrides: copied}
}

// Snapshot implements Store.
func (o *Overlay) Snapshot() (*config.Connection, error) {
	var conn config.Connection
	if o.base == nil {
		conn = config.DefaultConnection()
	} else {
		snap, err := o.base.Snapshot()
		if err != nil {
			return nil, err
		}
		conn = *snap
	}

	// Apply in key order so errors are reported deterministically.
	for _, key := range config.Keys() {
		value, ok := o.overrides[key]
		if !ok {
			continue
		}
		if err := conn.Set(key, value); err != nil {
			return nil, err
		}
	}
	return &conn, nil
}

// Static is a Store returning a fixed connection.
type Static struct {
	Connection config.Connection
}

// NewStatic returns a store that always yields conn.
func NewStatic(conn config.Connection) *Static {
	return &Static{Connection: conn}
}

// Snapshot implements Store.
func (s *Static) Snapshot() (*config.Connection, error) {
	conn := s.Connection
	return &conn, nil
}
