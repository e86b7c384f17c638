package testutil

import (
	"sort"
	"sync"
	"time"
)

// Epoch is the default start time of a ManualClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a fake wall clock whose time only moves on Advance.
//
// It implements engine.Timers. Timer callbacks run synchronously inside
// Advance, in deadline order, with the clock set to each timer's deadline.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	nextID int
}

type manualTimer struct {
	id       int
	deadline time.Time
	f        func()
}

// NewManualClock creates a clock set to start. A zero start uses Epoch.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = Epoch
	}
	return &ManualClock{now: start}
}

// Now returns the current fake time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
// The returned stop function reports whether it prevented f from running.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{id: c.nextID, deadline: c.now.Add(d), f: f}
	c.nextID++
	c.timers = append(c.timers, t)

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, pending := range c.timers {
			if pending.id == t.id {
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
				return true
			}
		}
		return false
	}
}

// Pending returns the number of scheduled timers.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextDeadline returns the earliest scheduled deadline.
func (c *ManualClock) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return time.Time{}, false
	}
	next := c.timers[0].deadline
	for _, t := range c.timers[1:] {
		if t.deadline.Before(next) {
			next = t.deadline
		}
	}
	return next, true
}

// Advance moves the clock forward by d, firing every timer whose deadline
// is reached. Timers scheduled by a callback fire in the same call if
// their deadline is within the advanced window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		})
		if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		c.now = t.deadline
		c.mu.Unlock()

		t.f()
	}
}

// Set moves the clock to an absolute time. Equivalent to Advance by the
// difference; moving backwards is ignored.
func (c *ManualClock) Set(t time.Time) {
	if d := t.Sub(c.Now()); d > 0 {
		c.Advance(d)
	}
}
