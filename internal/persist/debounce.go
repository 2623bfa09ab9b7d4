// Package persist provides the debounced writer used by every cache service
// to coalesce bursts of durable-write requests into a single write.
package persist

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid successive Schedule calls into a single execution
// of the most recently scheduled function after a quiet interval. The
// scheduled function runs on its own goroutine, never on the calling path.
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Debouncer{interval: interval}
}

// Schedule replaces any pending write with fn and restarts the quiet-interval
// timer. Only the last fn scheduled within a burst is executed, so fn should
// capture state at execution time, not at scheduling time.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending = fn
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Flush runs any pending write immediately on the calling goroutine.
// Used at shutdown so the last in-memory state reaches disk.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel discards any pending write without running it. Scheduling remains
// possible afterwards. Used when the state a pending write would capture has
// just been wiped.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// Stop cancels any pending write and rejects further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}
