package clipboard

import (
	"context"
	"sync"
)

// MockClipboard is a scriptable clipboard for tests. Every successful Write
// is recorded and reported to watchers as an echo, as a system clipboard
// would.
type MockClipboard struct {
	mu       sync.Mutex
	content  string
	writes   []string
	writeErr error
	readErr  error
	now      func() int64
	subs     broadcaster
}

// NewMockClipboard creates a new mock clipboard
func NewMockClipboard() *MockClipboard {
	return &MockClipboard{now: NowMillis}
}

// SetClock replaces the timestamp source used for echoes.
func (m *MockClipboard) SetClock(now func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Read returns the current mock clipboard contents
func (m *MockClipboard) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return "", m.readErr
	}
	return m.content, nil
}

// Write sets the contents, records the write and notifies watchers.
func (m *MockClipboard) Write(content string) error {
	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	m.content = content
	m.writes = append(m.writes, content)
	ts := m.now()
	m.mu.Unlock()

	m.subs.publish(Change{Content: content, Timestamp: ts})
	return nil
}

// Watch returns a channel that emits when the clipboard changes
func (m *MockClipboard) Watch(ctx context.Context) <-chan Change {
	return m.subs.subscribe(ctx)
}

// EmitChange simulates a change made by another application.
func (m *MockClipboard) EmitChange(content string, timestamp int64) {
	m.mu.Lock()
	m.content = content
	m.mu.Unlock()

	m.subs.publish(Change{Content: content, Timestamp: timestamp})
}

// Writes returns every content passed to a successful Write.
func (m *MockClipboard) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

// FailWrites makes subsequent writes return err; nil restores them.
func (m *MockClipboard) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailReads makes subsequent reads return err; nil restores them.
func (m *MockClipboard) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// WatcherCount returns the number of active watchers.
func (m *MockClipboard) WatcherCount() int {
	return m.subs.count()
}
