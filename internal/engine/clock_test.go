package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shelfcast/internal/catalog"
	"github.com/roach88/shelfcast/internal/testutil"
)

func TestClock_StartAndNext(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current(), "Current does not increment")

	resumed := NewClockAt(100)
	assert.Equal(t, int64(101), resumed.Next())
}

func TestClock_ConcurrentNextUnique(t *testing.T) {
	c := NewClock()
	const goroutines, calls = 50, 100

	var wg sync.WaitGroup
	seqs := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seqs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "seq %d generated twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, goroutines*calls)
}

func TestClock_StampsEventsInProcessingOrder(t *testing.T) {
	cat := catalog.New("aisle-7", nil)
	cat.Hydrate(testutil.Products("A", "B"), 0)
	e := New(cat, WithTimers(testutil.NewManualClock(time.Time{})), WithClock(NewClockAt(10)))
	startEngine(t, e)

	e.DeliverLabel(label("A_1"))
	e.DeliverUpdate(testutil.MustJSON(t, testutil.Products("C")))
	e.DeliverLabel(label("B_1"))
	flush(t, e)

	report, ok := e.LastUpdate()
	require.True(t, ok)
	a, ok := e.Active()
	require.True(t, ok)

	assert.Equal(t, int64(12), report.Seq)
	assert.Equal(t, int64(13), a.Seq)

	require.NoError(t, e.Flush(context.Background()))
}
