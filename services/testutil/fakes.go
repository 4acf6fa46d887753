package testutil

import "time"

// FixedClock reports a settable instant. Advance it to cross day boundaries.
type FixedClock struct {
	Instant time.Time
}

func (c *FixedClock) Now() time.Time { return c.Instant }

func (c *FixedClock) Advance(d time.Duration) { c.Instant = c.Instant.Add(d) }

// ScriptedRand replays a fixed sequence of draws, then repeats the final
// value. A zero-value ScriptedRand always draws 0.
type ScriptedRand struct {
	Draws []float64
	next  int
}

func (r *ScriptedRand) Float64() float64 {
	if len(r.Draws) == 0 {
		return 0
	}
	if r.next >= len(r.Draws) {
		return r.Draws[len(r.Draws)-1]
	}
	v := r.Draws[r.next]
	r.next++
	return v
}
