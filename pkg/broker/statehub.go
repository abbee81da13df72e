package broker

import "sync"

// StateHub distributes connection states to subscribers. It caches the
// last value: a new subscriber receives the current state immediately.
//
// Each subscriber channel holds one value. When a subscriber falls behind,
// the pending value is replaced by the newer one, so a slow reader sees
// the latest state rather than blocking the publisher.
type StateHub struct {
	mu        sync.Mutex
	current   State
	listeners map[chan State]struct{}
	closed    bool
}

// NewStateHub creates a hub whose cached value is initial.
func NewStateHub(initial State) *StateHub {
	return &StateHub{
		current:   initial,
		listeners: make(map[chan State]struct{}),
	}
}

// Current returns the cached state.
func (h *StateHub) Current() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Subscribe returns a channel delivering the current state and every later
// change, and a function that unsubscribes and closes the channel.
func (h *StateHub) Subscribe() (<-chan State, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan State, 1)
	ch <- h.current
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.listeners[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.listeners[ch]; ok {
				delete(h.listeners, ch)
				close(ch)
			}
		})
	}
}

// Publish caches s and delivers it to every subscriber. Publishing the
// cached value again is a no-op.
func (h *StateHub) Publish(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || s == h.current {
		return
	}
	h.current = s

	for ch := range h.listeners {
		select {
		case ch <- s:
		default:
			// Replace the stale pending value.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// Close closes every subscriber channel. Later subscribers receive the
// final state on an already closed channel.
func (h *StateHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.listeners {
		close(ch)
	}
	h.listeners = nil
}
