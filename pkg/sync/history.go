package sync

import (
	"sync"
	"time"
)

// Direction tells whether a history entry was sent or received.
type Direction string

const (
	// Sent marks an event this device published.
	Sent Direction = "sent"
	// Received marks an event applied from another device.
	Received Direction = "received"
)

// HistoryItem records one synchronized clipboard value.
type HistoryItem struct {
	Time      time.Time `json:"time"`
	Direction Direction `json:"direction"`
	DeviceID  string    `json:"device_id"`
	Content   string    `json:"content"`
	Timestamp int64     `json:"timestamp"`
}

// history is a fixed-capacity ring buffer of recent sync activity. When full,
// the oldest entry is overwritten.
type history struct {
	items []HistoryItem
	head  int
	tail  int
	size  int
	cap   int
	mu    sync.Mutex
}

// newHistory creates a buffer holding at most capacity items.
func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{
		items: make([]HistoryItem, capacity),
		cap:   capacity,
	}
}

// Push appends an item, dropping the oldest when full.
func (h *history) Push(item HistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.tail] = item
	h.tail = (h.tail + 1) % h.cap

	if h.size < h.cap {
		h.size++
	} else {
		h.head = (h.head + 1) % h.cap
	}
}

// Len returns the number of stored items.
func (h *history) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Clear removes all items.
func (h *history) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.items {
		h.items[i] = HistoryItem{}
	}
	h.head = 0
	h.tail = 0
	h.size = 0
}

// Snapshot returns the stored items, newest first.
func (h *history) Snapshot() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size == 0 {
		return nil
	}

	result := make([]HistoryItem, h.size)
	for i := 0; i < h.size; i++ {
		idx := (h.head + h.size - 1 - i) % h.cap
		result[i] = h.items[idx]
	}
	return result
}
