package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically evicts idle buckets on a cron schedule.
type Sweeper struct {
	store Store
	now   func() time.Time
	cron  *cron.Cron
}

// NewSweeper schedules Sweep on store. schedule accepts the standard
// five-field cron syntax as well as descriptors such as "@every 1m".
func NewSweeper(store Store, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		store: store,
		now:   time.Now,
		cron:  cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single sweep and returns the number of evicted buckets.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.store.Sweep(ctx, s.now())
	if err != nil {
		slog.Warn("Rate limit sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Debug("Rate limit sweep completed", "evicted", n)
	}
	return n
}
