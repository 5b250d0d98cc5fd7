// Package escalation implements the per-session "insanity" schedule: a
// counter that advances once per completed turn and fires whenever it reaches
// a randomly drawn threshold.
package escalation

const (
	DefaultMin = 5
	DefaultMax = 9
)

// Rand is the subset of math/rand/v2.Rand the schedule draws from.
type Rand interface {
	IntN(n int) int
}

// State is the mutable escalation state owned by a single session.
type State struct {
	Counter   int `json:"escalation_counter"`
	Threshold int `json:"escalation_threshold"`
}

// Event is produced by every Advance call.
type Event struct {
	Triggered bool
	Level     int
}

// Tracker draws thresholds uniformly from [Min, Max] inclusive.
type Tracker struct {
	Min int
	Max int
}

func NewTracker(min, max int) Tracker {
	if min <= 0 {
		min = DefaultMin
	}
	if max < min {
		max = min
	}
	return Tracker{Min: min, Max: max}
}

// Start returns the initial state for a fresh session.
func (t Tracker) Start(rng Rand) State {
	return State{Threshold: t.draw(rng)}
}

// Advance increments the counter and fires when it reaches the threshold.
// On fire the counter resets to zero and a new threshold is drawn. Level is
// the counter value that caused the event.
func (t Tracker) Advance(s *State, rng Rand) Event {
	if s.Threshold <= 0 {
		s.Threshold = t.draw(rng)
	}
	s.Counter++
	if s.Counter < s.Threshold {
		return Event{Level: s.Counter}
	}
	level := s.Counter
	s.Counter = 0
	s.Threshold = t.draw(rng)
	return Event{Triggered: true, Level: level}
}

func (t Tracker) draw(rng Rand) int {
	min, max := t.Min, t.Max
	if min <= 0 {
		min = DefaultMin
	}
	if max < min {
		max = min
	}
	return min + rng.IntN(max-min+1)
}
