package clipboard

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by clipboard reads and writes.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter allows maxOps operations per period, refilled continuously.
func NewRateLimiter(maxOps int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxOps),
		maxTokens:  float64(maxOps),
		refillRate: float64(maxOps) / period.Seconds(),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow takes one token if available.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN takes n tokens if available.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens < float64(n) {
		return false
	}
	rl.tokens -= float64(n)
	return true
}

func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// TokensAvailable returns the current number of available tokens.
func (rl *RateLimiter) TokensAvailable() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.tokens
}

// Reset refills the bucket.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = rl.now()
}
