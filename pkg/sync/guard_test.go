package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func observeAll(g *guard, timestamps ...int64) []Classification {
	out := make([]Classification, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, g.Observe(ts))
	}
	return out
}

func TestGuardSequence(t *testing.T) {
	g := newGuard()
	assert.Equal(t,
		[]Classification{Genuine, Duplicate, Genuine},
		observeAll(g, 1000, 1000, 1001),
	)
	assert.Equal(t, int64(1001), g.Watermark())
}

func TestGuardInitialWatermark(t *testing.T) {
	// A fresh guard treats timestamp zero as already seen.
	g := newGuard()
	assert.Equal(t, Duplicate, g.Observe(0))
	assert.Equal(t, Genuine, g.Observe(1))
}

func TestGuardArm(t *testing.T) {
	g := newGuard()
	g.Observe(10)

	g.Arm()
	assert.Equal(t, SentinelTimestamp, g.Watermark())
	assert.Equal(t,
		[]Classification{AbsorbedEcho, Duplicate, Genuine},
		observeAll(g, 20, 20, 21),
	)
}

func TestGuardArmAbsorbsAnyTimestamp(t *testing.T) {
	for _, ts := range []int64{0, 5, 10} {
		g := newGuard()
		g.Observe(10)
		g.Arm()
		assert.Equal(t, AbsorbedEcho, g.Observe(ts), "ts=%d", ts)
		assert.Equal(t, Genuine, g.Observe(ts+100), "ts=%d", ts)
	}
}

func TestGuardArmTwiceAbsorbsOnce(t *testing.T) {
	g := newGuard()
	g.Arm()
	g.Arm()
	assert.Equal(t, AbsorbedEcho, g.Observe(1))
	assert.Equal(t, Genuine, g.Observe(2))
}

func TestGuardRestore(t *testing.T) {
	g := newGuard()
	g.Observe(7)
	prev := g.Watermark()
	g.Arm()
	g.Restore(prev)
	assert.Equal(t, Duplicate, g.Observe(7))
	assert.Equal(t, Genuine, g.Observe(8))
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "genuine", Genuine.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "absorbed_echo", AbsorbedEcho.String())
	assert.Equal(t, "unknown", Classification(99).String())
}
