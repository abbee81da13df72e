// Package clipboard provides access to the local text clipboard.
//
// Implementations report every observed change through Watch, including
// changes caused by their own Write calls. Suppressing those echoes is the
// caller's job: the sync engine arms its loopback guard before writing and
// absorbs the echo when it arrives.
//
// Wrappers:
//
//   - ResilientClipboard adds retries, a read/write rate limit and a
//     fallback mode after repeated failures.
//   - InstrumentedClipboard records operation latency and sizes.
//
// Platform implementations live in linux.go and darwin.go; other platforms
// return ErrNotSupported. NoopClipboard is an in-memory clipboard for
// headless hosts, and MockClipboard is a test double.
package clipboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotSupported indicates the platform is not supported
var ErrNotSupported = errors.New("clipboard: platform not supported")

// Change is one observed clipboard change.
type Change struct {
	Content string
	// Timestamp is the observation time in Unix milliseconds.
	Timestamp int64
}

// Clipboard defines the interface for platform-specific clipboard access
type Clipboard interface {
	// Read returns the current clipboard contents
	Read() (string, error)

	// Write sets the clipboard contents
	Write(content string) error

	// Watch returns a channel that emits a Change whenever the clipboard
	// content changes. The channel is closed when ctx is cancelled.
	Watch(ctx context.Context) <-chan Change
}

// Option configures a platform clipboard.
type Option func(*options)

type options struct {
	pollInterval time.Duration
}

// WithPollInterval sets the fast polling interval used by Watch. Idle
// polling slows down to at least PollSlow.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// NewPlatformClipboard returns a clipboard implementation for the current platform
func NewPlatformClipboard(opts ...Option) (Clipboard, error) {
	o := options{pollInterval: PollFast}
	for _, opt := range opts {
		opt(&o)
	}
	return newPlatformClipboard(o)
}

// NowMillis returns the current time in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
