// This file provides a clipboard wrapper that adds retries, rate limiting
// and a fallback mode for the command-based platform clipboards.

package clipboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/pearlsync/pkg/metrics"
)

var (
	// ErrRateLimited is returned when the operation budget is exhausted.
	ErrRateLimited = errors.New("clipboard: rate limit exceeded")

	// ErrUnavailable is returned while the wrapper is in fallback mode.
	ErrUnavailable = errors.New("clipboard: temporarily unavailable after repeated failures")
)

// ResilientOptions configures a ResilientClipboard. Zero fields take the
// defaults.
type ResilientOptions struct {
	Retry            *RetryConfig
	Limiter          *RateLimiter
	FailureThreshold int           // consecutive failures before fallback (default 5)
	Cooldown         time.Duration // fallback duration before a probe (default 30s)
	WatchRestart     time.Duration // delay before re-watching a closed stream (default 1s)
	Metrics          metrics.Recorder
}

// ResilientClipboard wraps a platform clipboard with additional hardening features
type ResilientClipboard struct {
	clipboard Clipboard
	opts      ResilientOptions
	now       func() time.Time

	mu            sync.Mutex
	lastError     error
	errorCount    int
	fallbackUntil time.Time
}

// NewResilientClipboard wraps clipboard.
func NewResilientClipboard(clipboard Clipboard, opts ResilientOptions) *ResilientClipboard {
	if opts.Retry == nil {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(100, time.Minute)
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.WatchRestart <= 0 {
		opts.WatchRestart = time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	return &ResilientClipboard{
		clipboard: clipboard,
		opts:      opts,
		now:       time.Now,
	}
}

// Read returns the current clipboard contents with retry logic
func (rc *ResilientClipboard) Read() (string, error) {
	var result string
	err := rc.do("read", func() error {
		var readErr error
		result, readErr = rc.clipboard.Read()
		return readErr
	})
	return result, err
}

// Write sets the clipboard contents with retry logic
func (rc *ResilientClipboard) Write(content string) error {
	return rc.do("write", func() error {
		return rc.clipboard.Write(content)
	})
}

func (rc *ResilientClipboard) do(op string, fn func() error) error {
	if !rc.opts.Limiter.Allow() {
		rc.opts.Metrics.RateLimitHit(op)
		return fmt.Errorf("%w: %s", ErrRateLimited, op)
	}

	// In fallback mode only one probe per cooldown reaches the clipboard.
	rc.mu.Lock()
	if !rc.fallbackUntil.IsZero() {
		if rc.now().Before(rc.fallbackUntil) {
			rc.mu.Unlock()
			return ErrUnavailable
		}
		rc.fallbackUntil = rc.now().Add(rc.opts.Cooldown)
		rc.mu.Unlock()
		err := fn()
		rc.record(err)
		return err
	}
	rc.mu.Unlock()

	err := RetryOperation(context.Background(), rc.opts.Retry, fn)
	rc.record(err)
	return err
}

// record tracks consecutive failures and manages fallback mode. Content
// errors are the caller's fault and do not count.
func (rc *ResilientClipboard) record(err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if err == nil {
		rc.errorCount = 0
		rc.lastError = nil
		rc.fallbackUntil = time.Time{}
		return
	}
	if errors.Is(err, ErrContentTooLarge) || errors.Is(err, ErrInvalidContent) {
		return
	}

	rc.lastError = err
	rc.errorCount++
	if rc.errorCount >= rc.opts.FailureThreshold && rc.fallbackUntil.IsZero() {
		rc.fallbackUntil = rc.now().Add(rc.opts.Cooldown)
	}
}

// Watch forwards changes from the wrapped clipboard and re-watches when
// its stream ends before ctx does.
func (rc *ResilientClipboard) Watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, 10)

	go func() {
		defer close(ch)

		for {
			watchCtx, watchCancel := context.WithCancel(ctx)
			src := rc.clipboard.Watch(watchCtx)

			for change := range src {
				select {
				case ch <- change:
				case <-ctx.Done():
				}
			}
			watchCancel()

			timer := time.NewTimer(rc.opts.WatchRestart)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()

	return ch
}

// ErrorState returns the consecutive failure count, whether fallback mode
// is active, and the last error.
func (rc *ResilientClipboard) ErrorState() (int, bool, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.errorCount, !rc.fallbackUntil.IsZero(), rc.lastError
}
