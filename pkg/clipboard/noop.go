package clipboard

import (
	"context"
	"sync"
)

// watchBuffer is the per-watcher channel capacity for in-memory clipboards.
const watchBuffer = 64

// NoopClipboard is an in-memory clipboard for headless hosts. It never
// touches a system clipboard, so pearlsync can run as a network pipe driven
// by the local API.
type NoopClipboard struct {
	mu      sync.RWMutex
	content string
	subs    broadcaster
	now     func() int64
}

// NewNoopClipboard creates an empty in-memory clipboard.
func NewNoopClipboard() *NoopClipboard {
	return &NoopClipboard{now: NowMillis}
}

// Read returns the current clipboard content.
func (c *NoopClipboard) Read() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.content, nil
}

// Write sets the clipboard content and notifies watchers when it changed.
func (c *NoopClipboard) Write(content string) error {
	if err := ValidateContent([]byte(content)); err != nil {
		return err
	}

	c.mu.Lock()
	changed := c.content != content
	c.content = content
	c.mu.Unlock()

	if changed {
		c.subs.publish(Change{Content: content, Timestamp: c.now()})
	}
	return nil
}

// Watch returns a channel that receives every content change.
func (c *NoopClipboard) Watch(ctx context.Context) <-chan Change {
	return c.subs.subscribe(ctx)
}

// broadcaster fans changes out to watchers. Slow watchers lose changes
// rather than blocking the writer.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, watchBuffer)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Change]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (b *broadcaster) publish(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
