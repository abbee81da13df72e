package sync

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pearlsync/pkg/crypt"
)

func TestEncodeFieldNames(t *testing.T) {
	data, err := Encode(NewTextEvent("dev1", "hello", 1000))
	require.NoError(t, err)
	assert.JSONEq(t, `{"deviceID":"dev1","type":"text","content":"hello","timestamp":1000}`, string(data))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *SyncEvent
		wantErr bool
	}{
		{
			name:  "valid",
			input: `{"deviceID":"dev1","type":"text","content":"hello","timestamp":1000}`,
			want:  &SyncEvent{DeviceID: "dev1", Kind: KindText, Content: "hello", Timestamp: 1000},
		},
		{
			name:  "unknown fields ignored",
			input: `{"deviceID":"dev1","type":"text","content":"","timestamp":5,"extra":{"nested":true}}`,
			want:  &SyncEvent{DeviceID: "dev1", Kind: KindText, Content: "", Timestamp: 5},
		},
		{
			name:  "unknown type decodes",
			input: `{"deviceID":"dev1","type":"image","content":"x","timestamp":5}`,
			want:  &SyncEvent{DeviceID: "dev1", Kind: Kind("image"), Content: "x", Timestamp: 5},
		},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "array", input: `[1,2]`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
		{name: "missing deviceID", input: `{"type":"text","content":"x","timestamp":1}`, wantErr: true},
		{name: "empty deviceID", input: `{"deviceID":"","type":"text","content":"x","timestamp":1}`, wantErr: true},
		{name: "missing type", input: `{"deviceID":"d","content":"x","timestamp":1}`, wantErr: true},
		{name: "missing content", input: `{"deviceID":"d","type":"text","timestamp":1}`, wantErr: true},
		{name: "missing timestamp", input: `{"deviceID":"d","type":"text","content":"x"}`, wantErr: true},
		{name: "wrong timestamp type", input: `{"deviceID":"d","type":"text","content":"x","timestamp":"1"}`, wantErr: true},
		{name: "wrong content type", input: `{"deviceID":"d","type":"text","content":7,"timestamp":1}`, wantErr: true},
		{name: "invalid utf8", input: "{\"deviceID\":\"d\xff\",\"type\":\"text\",\"content\":\"x\",\"timestamp\":1}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDecode)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindKnown(t *testing.T) {
	assert.True(t, KindText.Known())
	assert.False(t, Kind("image").Known())
	assert.False(t, Kind("").Known())
}

func TestSealOpenScenario(t *testing.T) {
	material, err := crypt.Derive("s3cr3t")
	require.NoError(t, err)

	payload, err := Seal(material, NewTextEvent("dev1", "hello", 1000))
	require.NoError(t, err)

	// The ciphertext is the whole message body: no plaintext leaks.
	assert.NotContains(t, string(payload), "hello")
	assert.Zero(t, len(payload)%16)

	again, err := crypt.Derive("s3cr3t")
	require.NoError(t, err)
	got, err := Open(again, payload)
	require.NoError(t, err)
	assert.Equal(t, &SyncEvent{DeviceID: "dev1", Kind: KindText, Content: "hello", Timestamp: 1000}, got)
}

func TestSealOpenRoundTrip(t *testing.T) {
	material, err := crypt.Derive("round-trip")
	require.NoError(t, err)

	events := []*SyncEvent{
		NewTextEvent("a", "", 0),
		NewTextEvent("b", "multi\nline\ttext \"quoted\"", -5),
		NewTextEvent("c", "日本語 ✓", 1<<53),
		NewTextEvent("d", strings.Repeat("x", 10000), 42),
	}
	for _, ev := range events {
		payload, err := Seal(material, ev)
		require.NoError(t, err)
		got, err := Open(material, payload)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}

func TestOpenErrors(t *testing.T) {
	material, err := crypt.Derive("key")
	require.NoError(t, err)

	_, err = Open(material, []byte("short"))
	assert.ErrorIs(t, err, crypt.ErrDecrypt)

	// Valid encryption of something that is not a SyncEvent.
	notEvent, err := material.Encrypt([]byte(`{"hello":"world"}`))
	require.NoError(t, err)
	_, err = Open(material, notEvent)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, crypt.ErrDecrypt)
}

func TestSyncEventTime(t *testing.T) {
	ev := NewTextEvent("d", "x", 1500)
	assert.Equal(t, int64(1500), ev.Time().UnixMilli())

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"text"`)
}
