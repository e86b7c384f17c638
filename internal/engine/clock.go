package engine

import "sync/atomic"

// Clock numbers processed events.
//
// Active products and update reports carry the seq of the event that
// produced them, so observers can order them without wall time. A Manager
// shares one Clock between the sessions it runs, which keeps seq
// increasing across identity resets.
//
// Clock is safe for concurrent use, although only the Run goroutine of an
// engine advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose first Next returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out, or the start value.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
