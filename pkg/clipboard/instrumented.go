package clipboard

import (
	"context"
	"time"

	"github.com/Veraticus/pearlsync/pkg/metrics"
)

// InstrumentedClipboard records latency, result and size of every
// clipboard operation.
type InstrumentedClipboard struct {
	clipboard Clipboard
	metrics   metrics.Recorder
}

// NewInstrumentedClipboard wraps clipboard. A nil recorder records nothing.
func NewInstrumentedClipboard(clipboard Clipboard, rec metrics.Recorder) *InstrumentedClipboard {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &InstrumentedClipboard{
		clipboard: clipboard,
		metrics:   rec,
	}
}

// Read returns the current clipboard contents with metrics.
func (ic *InstrumentedClipboard) Read() (string, error) {
	start := time.Now()
	content, err := ic.clipboard.Read()
	ic.metrics.ClipboardOp("read", time.Since(start), err)
	if err == nil {
		ic.metrics.ClipboardSize("read", len(content))
	}
	return content, err
}

// Write sets the clipboard contents with metrics.
func (ic *InstrumentedClipboard) Write(content string) error {
	start := time.Now()
	err := ic.clipboard.Write(content)
	ic.metrics.ClipboardOp("write", time.Since(start), err)
	if err == nil {
		ic.metrics.ClipboardSize("write", len(content))
	}
	return err
}

// Watch forwards changes, recording the size of each.
func (ic *InstrumentedClipboard) Watch(ctx context.Context) <-chan Change {
	out := make(chan Change, 10)
	src := ic.clipboard.Watch(ctx)

	go func() {
		defer close(out)
		for change := range src {
			ic.metrics.ClipboardSize("watch", len(change.Content))
			select {
			case out <- change:
			case <-ctx.Done():
			}
		}
	}()

	return out
}
