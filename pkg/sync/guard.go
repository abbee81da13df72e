package sync

// SentinelTimestamp is the watermark value meaning "the next local change is
// the echo of a remote apply and must be absorbed".
const SentinelTimestamp int64 = -1

// Classification is the outcome of observing a local clipboard change.
type Classification int

const (
	// Genuine changes are published.
	Genuine Classification = iota
	// Duplicate is a repeated notification for the same change.
	Duplicate
	// AbsorbedEcho is the change caused by our own remote apply.
	AbsorbedEcho
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case Genuine:
		return "genuine"
	case Duplicate:
		return "duplicate"
	case AbsorbedEcho:
		return "absorbed_echo"
	default:
		return "unknown"
	}
}

// guard suppresses loopback publishes using a timestamp watermark.
//
// Applying remote content to the local clipboard triggers the platform's
// change notification just like a user copy would. Arming the guard before
// the write makes the next observation an absorbed echo; after that, changes
// are compared against the last seen timestamp to drop redundant
// notifications.
//
// guard is not safe for concurrent use. It is owned by the engine loop.
type guard struct {
	last int64
}

func newGuard() *guard {
	return &guard{}
}

// Observe classifies a local change seen at ts and updates the watermark.
func (g *guard) Observe(ts int64) Classification {
	switch {
	case g.last == SentinelTimestamp:
		g.last = ts
		return AbsorbedEcho
	case ts == g.last:
		return Duplicate
	default:
		g.last = ts
		return Genuine
	}
}

// Arm sets the watermark to the sentinel.
func (g *guard) Arm() {
	g.last = SentinelTimestamp
}

// Watermark returns the last recorded timestamp.
func (g *guard) Watermark() int64 {
	return g.last
}

// Restore puts back a watermark saved before Arm. It is used when the
// clipboard write that would have produced the echo failed.
func (g *guard) Restore(ts int64) {
	g.last = ts
}
