package engine

import "time"

// Timers abstracts wall time for the dwell timer.
//
// AfterFunc returns a stop function with time.Timer.Stop semantics.
// RealTimers is used in production; tests use testutil.ManualClock.
type Timers interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// RealTimers implements Timers with the time package.
type RealTimers struct{}

// Now returns the current wall time.
func (RealTimers) Now() time.Time { return time.Now() }

// AfterFunc calls f in its own goroutine after d.
func (RealTimers) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
