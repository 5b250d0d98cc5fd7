package escalation

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestStartDrawsWithinRange(t *testing.T) {
	tr := NewTracker(5, 9)
	rng := seeded(1)
	for i := 0; i < 200; i++ {
		s := tr.Start(rng)
		require.GreaterOrEqual(t, s.Threshold, 5)
		require.LessOrEqual(t, s.Threshold, 9)
		require.Zero(t, s.Counter)
	}
}

func TestAdvanceFiresAtThresholdAndRedraws(t *testing.T) {
	tr := NewTracker(5, 9)
	rng := seeded(42)
	s := State{Threshold: 3}

	ev := tr.Advance(&s, rng)
	assert.False(t, ev.Triggered)
	ev = tr.Advance(&s, rng)
	assert.False(t, ev.Triggered)

	ev = tr.Advance(&s, rng)
	require.True(t, ev.Triggered)
	assert.Equal(t, 3, ev.Level)
	assert.Zero(t, s.Counter)
	assert.GreaterOrEqual(t, s.Threshold, 5)
	assert.LessOrEqual(t, s.Threshold, 9)
}

func TestAdvanceNeverTriggersTwiceForSameCounter(t *testing.T) {
	tr := NewTracker(5, 9)
	rng := seeded(7)
	s := tr.Start(rng)

	lastTriggerCounter := -1
	for i := 0; i < 500; i++ {
		before := s.Counter
		ev := tr.Advance(&s, rng)
		if ev.Triggered {
			require.NotEqual(t, lastTriggerCounter, before, "consecutive triggers without counter movement")
			require.Zero(t, s.Counter)
			lastTriggerCounter = before
			continue
		}
		require.Equal(t, before+1, s.Counter)
		lastTriggerCounter = -1
	}
}

func TestSeededScheduleIsDeterministic(t *testing.T) {
	tr := NewTracker(5, 9)
	run := func() []int {
		rng := seeded(99)
		s := tr.Start(rng)
		var fired []int
		for i := 0; i < 60; i++ {
			if tr.Advance(&s, rng).Triggered {
				fired = append(fired, i)
			}
		}
		return fired
	}
	assert.Equal(t, run(), run())
}

func TestStatesAreIndependent(t *testing.T) {
	tr := NewTracker(2, 2)
	rng := seeded(3)
	a := tr.Start(rng)
	b := tr.Start(rng)

	tr.Advance(&a, rng)
	ev := tr.Advance(&a, rng)
	require.True(t, ev.Triggered)

	assert.Zero(t, b.Counter)
	ev = tr.Advance(&b, rng)
	assert.False(t, ev.Triggered)
	assert.Equal(t, 1, b.Counter)
}

func TestNewTrackerNormalizesRange(t *testing.T) {
	tr := NewTracker(0, 0)
	assert.Equal(t, DefaultMin, tr.Min)
	assert.Equal(t, DefaultMin, tr.Max)

	tr = NewTracker(6, 4)
	assert.Equal(t, 6, tr.Min)
	assert.Equal(t, 6, tr.Max)
}
