// message.go defines the wire format for clipboard synchronization events.
// Every device subscribed to the topic publishes and consumes the same
// payload, so the format is fixed by the peers already on the wire.
//
// Message Format:
//
// SyncEvent is serialized as a UTF-8 JSON object:
//
//	{"deviceID":"laptop-1a2b3c4d","type":"text","content":"hello","timestamp":1000}
//
//   - deviceID: stable identifier of the originating device
//   - type: payload kind, only "text" is defined
//   - content: the clipboard text, possibly empty
//   - timestamp: change marker in the sender's milliseconds
//
// Forward Compatibility:
//
// Unknown object fields are ignored. Unknown type values decode successfully
// so newer peers can introduce kinds without breaking older ones; the engine
// ignores kinds it does not understand.
//
// Envelope:
//
// Seal and Open compose the codec with the crypt package. The encrypted JSON
// document is the entire broker message body.

package sync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/Veraticus/pearlsync/pkg/crypt"
)

// ErrDecode indicates a payload that is not a valid SyncEvent document.
var ErrDecode = errors.New("invalid sync event")

// Kind identifies the type of synchronized payload.
type Kind string

const (
	// KindText is plain clipboard text.
	KindText Kind = "text"
)

// Known reports whether the engine knows how to apply this kind.
func (k Kind) Known() bool {
	return k == KindText
}

// SyncEvent is a single clipboard change exchanged between devices.
// It is built immediately before encryption on send and rebuilt immediately
// after decryption on receive; it is never persisted.
type SyncEvent struct {
	DeviceID  string `json:"deviceID"`
	Kind      Kind   `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewTextEvent creates a text event for content observed at timestamp (ms).
func NewTextEvent(deviceID, content string, timestamp int64) *SyncEvent {
	return &SyncEvent{
		DeviceID:  deviceID,
		Kind:      KindText,
		Content:   content,
		Timestamp: timestamp,
	}
}

// Time returns the event timestamp as a time.Time.
func (e *SyncEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// wireEvent mirrors SyncEvent with pointer fields so that missing keys can be
// told apart from zero values.
type wireEvent struct {
	DeviceID  *string `json:"deviceID"`
	Kind      *string `json:"type"`
	Content   *string `json:"content"`
	Timestamp *int64  `json:"timestamp"`
}

// Encode serializes the event to JSON.
func Encode(event *SyncEvent) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrDecode)
	}
	return json.Marshal(event)
}

// Decode parses a JSON SyncEvent. All four fields are required; unknown
// fields are ignored.
func Decode(data []byte) (*SyncEvent, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrDecode)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrDecode)
	}

	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	switch {
	case w.DeviceID == nil:
		return nil, fmt.Errorf("%w: missing deviceID", ErrDecode)
	case *w.DeviceID == "":
		return nil, fmt.Errorf("%w: empty deviceID", ErrDecode)
	case w.Kind == nil:
		return nil, fmt.Errorf("%w: missing type", ErrDecode)
	case w.Content == nil:
		return nil, fmt.Errorf("%w: missing content", ErrDecode)
	case w.Timestamp == nil:
		return nil, fmt.Errorf("%w: missing timestamp", ErrDecode)
	}

	return &SyncEvent{
		DeviceID:  *w.DeviceID,
		Kind:      Kind(*w.Kind),
		Content:   *w.Content,
		Timestamp: *w.Timestamp,
	}, nil
}

// Seal encodes and encrypts an event into a broker payload.
func Seal(material *crypt.Material, event *SyncEvent) ([]byte, error) {
	plain, err := Encode(event)
	if err != nil {
		return nil, err
	}
	sealed, err := material.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt event: %w", err)
	}
	return sealed, nil
}

// Open decrypts and decodes a broker payload. Errors wrap crypt.ErrDecrypt
// or ErrDecode so callers can tell the two apart.
func Open(material *crypt.Material, payload []byte) (*SyncEvent, error) {
	plain, err := material.Decrypt(payload)
	if err != nil {
		return nil, err
	}
	return Decode(plain)
}
