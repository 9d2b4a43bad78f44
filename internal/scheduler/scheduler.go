// Package scheduler fires the daily backfill job at a configured
// wall-clock time (spec.md §4.6) and exposes a manual trigger for
// on-demand jobs. It is grounded on the platform's
// services/jax-market/internal/ingester.Start run-loop shape (a
// background goroutine driven by a single timer, stopped via context
// cancellation), generalized from a fixed-interval ticker to a wall-clock
// cron schedule, and on the pack's r3e-network-service_layer automation
// service for the choice of robfig/cron/v3 as the cron-parsing dependency.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketwarehouse/internal/orchestrator"
	"marketwarehouse/libs/observability"
)

// JobRunner is the dependency the scheduler drives. Satisfied by
// *internal/orchestrator.Orchestrator.
type JobRunner interface {
	RunJob(ctx context.Context, req orchestrator.JobRequest) (string, error)
}

// Config holds the scheduler's firing and pacing settings (spec.md §4.6,
// §6).
type Config struct {
	ScheduleHour   int
	ScheduleMinute int
	// MisfireGrace bounds how long after the scheduled instant a daily
	// tick may still start; past this the tick is skipped, not
	// catch-up-run (spec.md §4.6).
	MisfireGrace time.Duration
	// HistoryWindow is how far back the scheduled job's date range
	// reaches from "now". The daily tick has no operator-supplied range,
	// so it uses DEFAULT_HISTORY_DAYS (spec.md §6) the same way a manual
	// job would if asked to backfill "from the default depth to today".
	HistoryWindow time.Duration
}

// DefaultConfig returns spec.md §6's default values (02:00 UTC, 600s
// grace, DEFAULT_HISTORY_DAYS=365).
func DefaultConfig() Config {
	return Config{
		ScheduleHour:   2,
		ScheduleMinute: 0,
		MisfireGrace:   10 * time.Minute,
		HistoryWindow:  365 * 24 * time.Hour,
	}
}

// Scheduler fires the daily job and serializes it against manual triggers
// so at most one job runs at a time (spec.md §4.6: "jobs are serialized
// per configured global concurrency (default 1)").
type Scheduler struct {
	cron   *cron.Cron
	runner JobRunner
	cfg    Config

	mu      sync.Mutex
	running bool
}

// New builds a Scheduler over runner.
func New(runner JobRunner, cfg Config) *Scheduler {
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultConfig().MisfireGrace
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		runner: runner,
		cfg:    cfg,
	}
}

// Start registers the daily cron entry and begins firing it in the
// background. Stop halts future fires without affecting an in-flight job.
// Cancelling ctx also halts future fires, and since ctx is the context the
// daily job runs under, it cancels an in-flight daily job as well.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("%d %d * * *", s.cfg.ScheduleMinute, s.cfg.ScheduleHour)
	_, err := s.cron.AddFunc(spec, func() {
		now := time.Now().UTC()
		scheduledAt := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.ScheduleHour, s.cfg.ScheduleMinute, 0, 0, time.UTC)
		if scheduledAt.After(now) {
			scheduledAt = scheduledAt.AddDate(0, 0, -1)
		}
		s.fireDaily(ctx, scheduledAt)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// Stop halts future daily fires without affecting an in-flight job.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// fireDaily runs at the scheduled instant. It is skipped — not run late —
// if the misfire grace window has already elapsed, and skipped with an
// alert if the previous daily run is still in progress (spec.md §4.6).
func (s *Scheduler) fireDaily(ctx context.Context, scheduledAt time.Time) {
	if time.Since(scheduledAt) > s.cfg.MisfireGrace {
		observability.LogEvent(ctx, "warn", "scheduler_misfire_skipped", map[string]any{
			"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if !s.tryAcquire() {
		observability.LogAlert(ctx, "scheduler_overlap", map[string]any{
			"detail": "previous daily job still running past its scheduled fire",
		})
		return
	}
	defer s.release()

	end := time.Now().UTC()
	start := end.Add(-s.cfg.HistoryWindow)
	if _, err := s.runner.RunJob(ctx, orchestrator.JobRequest{Start: start, End: end}); err != nil {
		observability.LogEvent(ctx, "error", "scheduled_job_failed", map[string]any{"error": err.Error()})
	}
}

// TriggerManual runs req immediately, serialized against the daily job and
// any other manual trigger (spec.md §4.6: "the scheduler shares the
// orchestrator with the daily job; jobs are serialized"). It returns
// ErrJobAlreadyRunning if another job currently holds the slot; callers
// are expected to queue and retry, per spec.md's "additional jobs queue".
func (s *Scheduler) TriggerManual(ctx context.Context, req orchestrator.JobRequest) (string, error) {
	if !s.tryAcquire() {
		return "", ErrJobAlreadyRunning
	}
	defer s.release()

	return s.runner.RunJob(ctx, req)
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}
