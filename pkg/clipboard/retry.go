// This file provides retry with exponential backoff for clipboard commands,
// which fail transiently when the display server is busy or restarting.

package clipboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           // Maximum number of attempts, including the first
	InitialDelay  time.Duration // Delay before the second attempt
	MaxDelay      time.Duration // Upper bound for any delay
	BackoffFactor float64       // Exponential backoff multiplier
	JitterFactor  float64       // Jitter as a fraction of the delay (0.0 to 1.0)
}

// transientMessages are error substrings reported by X11 and Wayland tools
// for failures that usually clear on their own.
var transientMessages = []string{
	"temporary failure",
	"resource temporarily unavailable",
	"can't open display",
	"failed to connect to a wayland server",
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotSupported) || errors.Is(err, ErrContentTooLarge) || errors.Is(err, ErrInvalidContent) {
		return false
	}
	if errors.Is(err, ErrCommandTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// delay returns the wait after the given failed attempt (1-based).
func (rc *RetryConfig) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return rc.InitialDelay
	}

	d := float64(rc.InitialDelay) * math.Pow(rc.BackoffFactor, float64(attempt-1))
	if d > float64(rc.MaxDelay) {
		d = float64(rc.MaxDelay)
	}

	if rc.JitterFactor > 0 {
		//nolint:gosec // math/rand is acceptable for retry jitter
		d += d * rc.JitterFactor * (2*rand.Float64() - 1)
		if d < 0 {
			d = float64(rc.InitialDelay)
		}
	}

	return time.Duration(d)
}

// RetryOperation runs operation until it succeeds, fails permanently, or
// the attempts run out.
func RetryOperation(ctx context.Context, config *RetryConfig, operation func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= config.MaxAttempts || !IsRetryable(err) {
			break
		}

		timer := time.NewTimer(config.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	return lastErr
}
