package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	assert.Equal(t, Epoch, NewManualClock(time.Time{}).Now())

	start := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, start, NewManualClock(start).Now())
}

func TestManualClock_AdvanceFiresDueTimers(t *testing.T) {
	c := NewManualClock(time.Time{})
	var fired []string

	c.AfterFunc(3*time.Second, func() { fired = append(fired, "3s") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "1s") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "5s") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"1s", "3s"}, fired)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, Epoch.Add(3*time.Second), c.Now())

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"1s", "3s", "5s"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestManualClock_CallbackSeesDeadline(t *testing.T) {
	c := NewManualClock(time.Time{})
	var at time.Time
	c.AfterFunc(2*time.Second, func() { at = c.Now() })

	c.Advance(10 * time.Second)
	assert.Equal(t, Epoch.Add(2*time.Second), at)
	assert.Equal(t, Epoch.Add(10*time.Second), c.Now())
}

func TestManualClock_Stop(t *testing.T) {
	c := NewManualClock(time.Time{})
	fired := false
	stop := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, stop())
	assert.False(t, stop(), "second stop reports nothing to stop")

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestManualClock_StopAfterFire(t *testing.T) {
	c := NewManualClock(time.Time{})
	stop := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, stop())
}

func TestManualClock_RescheduleFromCallback(t *testing.T) {
	c := NewManualClock(time.Time{})
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)
	assert.Equal(t, 3, count)
}

func TestManualClock_NextDeadline(t *testing.T) {
	c := NewManualClock(time.Time{})
	_, ok := c.NextDeadline()
	assert.False(t, ok)

	c.AfterFunc(5*time.Second, func() {})
	stop := c.AfterFunc(2*time.Second, func() {})
	next, ok := c.NextDeadline()
	assert.True(t, ok)
	assert.Equal(t, Epoch.Add(2*time.Second), next)

	stop()
	next, _ = c.NextDeadline()
	assert.Equal(t, Epoch.Add(5*time.Second), next)
}

func TestManualClock_Set(t *testing.T) {
	c := NewManualClock(time.Time{})
	c.Set(Epoch.Add(time.Minute))
	assert.Equal(t, Epoch.Add(time.Minute), c.Now())

	c.Set(Epoch)
	assert.Equal(t, Epoch.Add(time.Minute), c.Now(), "never moves backwards")
}

func TestManualClock_ThreadSafe(t *testing.T) {
	c := NewManualClock(time.Time{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop := c.AfterFunc(time.Second, func() {})
			_ = c.Now()
			stop()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, c.Pending())
}
