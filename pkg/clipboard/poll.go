package clipboard

import (
	"context"
	"time"
)

// Polling intervals for command-based clipboards. Polling starts fast and
// slows down after idleLimit polls without a change.
const (
	PollFast      = 500 * time.Millisecond
	PollSlow      = 2 * time.Second
	pollIdleLimit = 10
)

// poller turns a read function into a stream of changes by comparing
// content hashes. The hash is only updated by the poller itself, so content
// written through the same clipboard is reported like any other change.
type poller struct {
	read func(ctx context.Context) (string, error)

	// counter, when set, returns a cheap change counter. Content is only
	// read when the counter moves or is unavailable.
	counter func(ctx context.Context) (int, bool)

	// notify, when set, blocks until the clipboard may have changed and
	// replaces the ticker. An error falls back to polling.
	notify func(ctx context.Context) error

	fast, slow time.Duration
	now        func() int64
}

func newPoller(read func(ctx context.Context) (string, error), interval time.Duration) *poller {
	if interval <= 0 {
		interval = PollFast
	}
	slow := PollSlow
	if slow < interval {
		slow = interval
	}
	return &poller{
		read: read,
		fast: interval,
		slow: slow,
		now:  NowMillis,
	}
}

// watch records the starting content before it returns, so any change
// made after Watch returns is reported.
func (p *poller) watch(ctx context.Context) <-chan Change {
	var lastHash string
	if content, err := p.read(ctx); err == nil {
		lastHash = hashContent(content)
	}
	lastCount := -1
	if p.counter != nil {
		if n, ok := p.counter(ctx); ok {
			lastCount = n
		}
	}

	ch := make(chan Change, 10)
	go func() {
		defer close(ch)
		p.run(ctx, ch, lastHash, lastCount)
	}()
	return ch
}

func (p *poller) run(ctx context.Context, ch chan<- Change, lastHash string, lastCount int) {

	ticker := time.NewTicker(p.fast)
	defer ticker.Stop()
	idle := 0
	notify := p.notify

	for {
		if notify != nil {
			if err := notify(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				notify = nil
				continue
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}

		if p.counter != nil {
			n, ok := p.counter(ctx)
			if ok && n == lastCount {
				idle = p.idle(ticker, idle)
				continue
			}
			if ok {
				lastCount = n
			}
		}

		content, err := p.read(ctx)
		if err != nil {
			continue
		}
		hash := hashContent(content)
		if hash == lastHash {
			idle = p.idle(ticker, idle)
			continue
		}
		lastHash = hash

		if idle > pollIdleLimit {
			ticker.Reset(p.fast)
		}
		idle = 0

		select {
		case ch <- Change{Content: content, Timestamp: p.now()}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *poller) idle(ticker *time.Ticker, idle int) int {
	idle++
	if idle == pollIdleLimit+1 {
		ticker.Reset(p.slow)
	}
	return idle
}
