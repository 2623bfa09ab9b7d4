// Package scheduler runs the periodic cache validation cycle.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/javi11/plansync/internal/config"
	"github.com/javi11/plansync/internal/coordinator"
	"github.com/robfig/cron/v3"
)

// Scheduler triggers coordinator validation cycles on a fixed interval. The
// interval comes from a config getter so a config reload takes effect on the
// next Start.
type Scheduler struct {
	coord       *coordinator.Coordinator
	getInterval config.IntervalGetter
	log         *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	cancel  context.CancelFunc
}

// New creates a stopped scheduler.
func New(coord *coordinator.Coordinator, getInterval config.IntervalGetter) *Scheduler {
	return &Scheduler{
		coord:       coord,
		getInterval: getInterval,
		log:         slog.Default().With("component", "scheduler"),
	}
}

// Start begins periodic validation and fires one immediate cycle so a fresh
// process does not wait a full interval for its first sync. Calling Start on
// a running scheduler is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	interval := s.getInterval()
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.runCycle(runCtx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule validation cycle: %w", err)
	}

	s.cron = c
	s.cancel = cancel
	s.running = true
	c.Start()

	go s.runCycle(runCtx)

	s.log.InfoContext(ctx, "Scheduler started", "interval", interval)
	return nil
}

// Stop halts the schedule and waits for an in-flight cycle to observe
// cancellation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	stopCtx := s.cron.Stop()
	s.cancel()
	s.running = false
	s.cron = nil
	s.cancel = nil

	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.log.Warn("Timed out waiting for running validation cycle")
	}

	s.log.Info("Scheduler stopped")
}

// Running reports whether the scheduler is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.coord.ValidateCache(ctx)
	s.log.DebugContext(ctx, "Validation cycle finished", "duration", time.Since(start))
}
