package persist

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		d.Schedule(func() {
			fired.Add(1)
		})
	}

	assert.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// No extra firings after the burst settles
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerLatestWins(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var got atomic.Int32
	d.Schedule(func() { got.Store(1) })
	d.Schedule(func() { got.Store(2) })

	assert.Eventually(t, func() bool {
		return got.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestDebouncerFlushRunsPendingImmediately(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.Stop()

	var fired atomic.Int32
	d.Schedule(func() { fired.Add(1) })

	d.Flush()
	assert.Equal(t, int32(1), fired.Load())

	// Flushing with nothing pending is a no-op
	d.Flush()
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerCancelDropsPendingButAllowsReuse(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	d.Schedule(func() { fired.Add(1) })
	d.Cancel()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Cancel with nothing pending is a no-op
	d.Cancel()

	// Unlike Stop, the debouncer stays usable
	d.Schedule(func() { fired.Add(1) })
	assert.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDebouncerStopDropsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var fired atomic.Int32
	d.Schedule(func() { fired.Add(1) })
	d.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// Scheduling after Stop is ignored
	d.Schedule(func() { fired.Add(1) })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
