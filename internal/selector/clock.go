package selector

import "sync/atomic"

// Clock is the engine's monotonic logical clock. Each Recalc pass is
// stamped with a strictly increasing tick; no wall clocks appear
// anywhere, so recorded runs replay in identical order.
//
// Thread-safety: Clock is safe for concurrent reads (atomic
// operations), though the engine's single-threaded design means only
// one caller advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific tick.
// Used by replay to resume from a recorded position.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new tick.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest tick without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
