// Package schedule runs diagnostics periodically.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	pkgerrors "rtcdoctor/pkg/errors"
)

// RunFunc executes one diagnostics run.
type RunFunc func(ctx context.Context) error

// PruneFunc deletes expired runs and returns how many went.
type PruneFunc func(ctx context.Context) (int64, error)

// Stats counts job executions.
type Stats struct {
	Runs    int64     `json:"runs"`
	Failed  int64     `json:"failed"`
	Skipped int64     `json:"skipped"` // another run was live
	LastRun time.Time `json:"last_run"`
}

// Scheduler handles periodic diagnostics runs
type Scheduler struct {
	scheduler gocron.Scheduler
	run       RunFunc
	prune     PruneFunc
	logger    *slog.Logger

	mu      sync.Mutex
	running bool

	runs, failed, skipped atomic.Int64
	lastRun               atomic.Int64 // unix nanos
}

// New creates a new scheduler. prune may be nil.
func New(run RunFunc, prune PruneFunc, logger *slog.Logger) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		scheduler: scheduler,
		run:       run,
		prune:     prune,
		logger:    logger,
	}, nil
}

// Start runs the job immediately and then every interval.
func (s *Scheduler) Start(ctx context.Context, every time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if every <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", every)
	}

	// a shut down gocron scheduler cannot take new jobs
	if s.scheduler == nil {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		s.scheduler = scheduler
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			s.tick(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create diagnostics job: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("scheduled diagnostics", "every", every)
	return nil
}

// Stop stops the scheduler and waits for a running job to return. The
// scheduler can be started again afterwards.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	s.scheduler = nil
	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns the execution counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Runs:    s.runs.Load(),
		Failed:  s.failed.Load(),
		Skipped: s.skipped.Load(),
	}
	if ns := s.lastRun.Load(); ns != 0 {
		st.LastRun = time.Unix(0, ns)
	}
	return st
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.lastRun.Store(time.Now().UnixNano())

	err := s.run(ctx)
	switch {
	case errors.Is(err, pkgerrors.ErrRunInProgress):
		s.skipped.Add(1)
		s.logger.Info("scheduled run skipped, another run is in progress")
		return
	case err != nil:
		s.runs.Add(1)
		s.failed.Add(1)
		s.logger.Warn("scheduled run failed", "error", err, "kind", pkgerrors.KindOf(err))
	default:
		s.runs.Add(1)
		s.logger.Info("scheduled run passed")
	}

	if s.prune == nil {
		return
	}
	n, err := s.prune(ctx)
	if err != nil {
		s.logger.Warn("pruning old runs failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned old runs", "count", n)
	}
}
