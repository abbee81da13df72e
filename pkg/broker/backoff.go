package broker

import (
	"math/rand"
	"sync"
	"time"
)

// Reconnect delay defaults. The ceiling matches the two second cap peers
// use for automatic reconnects.
const (
	DefaultReconnectInitial = 250 * time.Millisecond
	DefaultReconnectMax     = 2 * time.Second
)

// ExponentialBackoff implements an exponential backoff strategy with jitter.
// Jitter never pushes a delay past the maximum.
type ExponentialBackoff struct {
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  float64

	mu       sync.Mutex
	current  time.Duration
	attempts int
}

// NewExponentialBackoff creates a new exponential backoff
func NewExponentialBackoff(initial, max time.Duration, factor, jitter float64) *ExponentialBackoff {
	if initial <= 0 {
		initial = DefaultReconnectInitial
	}
	if max <= 0 {
		max = DefaultReconnectMax
	}
	if initial > max {
		initial = max
	}
	if factor <= 1 {
		factor = 2.0
	}
	if jitter < 0 || jitter > 1 {
		jitter = 0.1
	}

	return &ExponentialBackoff{
		initial: initial,
		max:     max,
		factor:  factor,
		jitter:  jitter,
		current: initial,
	}
}

// DefaultBackoff returns the reconnect backoff: 250ms doubling to 2s with
// 10% jitter.
func DefaultBackoff() *ExponentialBackoff {
	return NewExponentialBackoff(DefaultReconnectInitial, DefaultReconnectMax, 2.0, 0.1)
}

// Next returns the next backoff duration
func (b *ExponentialBackoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	duration := b.current

	if b.jitter > 0 {
		jitterRange := float64(duration) * b.jitter
		jitterValue := (rand.Float64()*2 - 1) * jitterRange
		duration = time.Duration(float64(duration) + jitterValue)
	}
	if duration > b.max {
		duration = b.max
	}

	b.attempts++
	b.current = time.Duration(float64(b.current) * b.factor)
	if b.current > b.max {
		b.current = b.max
	}

	return duration
}

// Reset resets the backoff to initial state
func (b *ExponentialBackoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of attempts since last reset
func (b *ExponentialBackoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Max returns the delay ceiling.
func (b *ExponentialBackoff) Max() time.Duration {
	return b.max
}
