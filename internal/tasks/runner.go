// Package tasks runs fire-and-forget work off the request path. Tasks are
// queued in a bounded channel, executed by a fixed pool of workers under a
// per-task timeout and paced by a token bucket. Failures are logged, never
// returned to the enqueuing caller.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"inkpost/internal/models"

	"golang.org/x/time/rate"
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Runner executes queued tasks on a worker pool.
type Runner struct {
	timeout time.Duration
	pacer   *rate.Limiter
	queue   chan task
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	failed    atomic.Uint64
	completed atomic.Uint64
}

// NewRunner starts cfg.Workers workers. Zero values fall back to one worker,
// a queue of 64, a 5s timeout and no pacing.
func NewRunner(cfg models.TasksConfig) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	r := &Runner{
		timeout: timeout,
		pacer:   rate.NewLimiter(limit, workers),
		queue:   make(chan task, size),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	slog.Debug("Started background task runner", "workers", workers, "queue_size", size)
	return r
}

// Enqueue schedules fn without blocking. It returns false when the queue is
// full or the runner is closed, in which case the task is dropped.
func (r *Runner) Enqueue(name string, fn Func) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		slog.Warn("Background task dropped, runner closed", "task", name)
		return false
	}

	select {
	case r.queue <- task{name: name, fn: fn}:
		return true
	default:
		r.dropped.Add(1)
		slog.Warn("Background task dropped, queue full", "task", name, "queue_size", cap(r.queue))
		return false
	}
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	for t := range r.queue {
		// Wait never fails without a deadline on the context.
		_ = r.pacer.Wait(context.Background())
		r.run(id, t)
	}
}

func (r *Runner) run(worker int, t task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(ctx, t.fn)
	if err != nil {
		r.failed.Add(1)
		slog.Error("Background task failed",
			"task", t.name,
			"worker", worker,
			"duration", time.Since(start),
			"error", err,
		)
		return
	}
	r.completed.Add(1)
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Close stops accepting tasks and waits for queued ones to finish, or for
// ctx to be done.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

// Stats is a snapshot of runner counters.
type Stats struct {
	Pending   int
	Completed uint64
	Failed    uint64
	Dropped   uint64
}

// Stats returns current counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Pending:   len(r.queue),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}
