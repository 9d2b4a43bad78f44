// Package orchestrator implements the Backfill Orchestrator (spec.md
// §4.5): the scheduler-triggered engine that enumerates (symbol,
// timeframe, date-range) work units, applies concurrency and per-group
// pacing, invokes the fetch/validate/persist pipeline, detects remaining
// gaps, retries them with exponential backoff, records per-unit and
// per-symbol status, and emits a completeness matrix.
//
// Grounded on the platform's services/jax-market/internal/ingester.go
// (ticker-driven run loop, metrics-callback pattern), generalized to a
// worker-pool-per-symbol model, and on the pack's
// ryansgi-swearjar backfill service (worker pool draining a resumable
// unit queue with per-unit retry and a concurrency semaphore) for the
// concurrency/resume shape spec.md §4.5 and §8 scenario 6 require.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketwarehouse/internal/registry"
	"marketwarehouse/internal/repository"
	"marketwarehouse/internal/validator"
	"marketwarehouse/libs/marketdata"
	"marketwarehouse/libs/observability"
)

// Config holds the orchestrator's concurrency, pacing, and deadline
// settings (spec.md §4.5.1, §4.5.2, §5, §6). New fills zero or negative
// MaxConcurrentSymbols, ChunkDays, GapRetryMaxAttempts, GapRetryBaseDelay,
// UpstreamCallTimeout and JobDeadline from DefaultConfig; InterGroupPause,
// InterSymbolStagger and DefaultHistoryDays are used as given.
type Config struct {
	MaxConcurrentSymbols int
	InterGroupPause      time.Duration
	InterSymbolStagger   time.Duration
	ChunkDays            int
	DefaultHistoryDays   int
	GapRetryMaxAttempts  int
	GapRetryBaseDelay    time.Duration
	UpstreamCallTimeout  time.Duration
	JobDeadline          time.Duration
}

// DefaultConfig returns the spec.md §6 default values.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSymbols: 3,
		InterGroupPause:      15 * time.Second,
		InterSymbolStagger:   5 * time.Second,
		ChunkDays:            365,
		DefaultHistoryDays:   365,
		GapRetryMaxAttempts:  2,
		GapRetryBaseDelay:    2 * time.Second,
		UpstreamCallTimeout:  30 * time.Second,
		JobDeadline:          4 * time.Hour,
	}
}

// Repository is the persistence dependency the orchestrator drives.
// Satisfied by *internal/repository.Repository.
type Repository interface {
	UpsertCandles(ctx context.Context, symbol, timeframe string, candles []validator.ValidatedCandle) (int, error)
	FindGaps(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]repository.DateRange, error)
	UpdateSymbolStatus(ctx context.Context, symbol, status string, errMsg *string) error
	AppendAuditEntry(ctx context.Context, entry repository.AuditEntry) error
	CreateJob(ctx context.Context, jobID string, spec repository.JobSpec) error
	MarkJobStarted(ctx context.Context, jobID string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress repository.JobProgress) error
	FinishJob(ctx context.Context, jobID, status, errMsg string) error
	AppendJobDetail(ctx context.Context, unit repository.JobUnit) error
	SetCompletenessMatrix(ctx context.Context, jobID string, matrix any) error
}

// UpstreamClient is the subset of libs/marketdata.Client the orchestrator
// calls directly. Enrichment endpoints (dividends/splits/earnings/options)
// are out of the orchestrator's OHLCV backfill responsibility (spec.md's
// Open Questions) and are not called here.
type UpstreamClient interface {
	FetchCandles(ctx context.Context, symbol string, assetClass marketdata.AssetClass, timeframe marketdata.Timeframe, start, end time.Time) ([]validator.RawCandle, error)
}

// SymbolRegistry is the subset of internal/registry.Registry the
// orchestrator reads from. Satisfied by *registry.Registry.
type SymbolRegistry interface {
	ListActive(ctx context.Context) ([]registry.TrackedSymbol, error)
}

// Orchestrator composes the concrete dependencies it drives (spec.md §9:
// "compose concrete dependencies at process init and hand them to the
// orchestrator").
type Orchestrator struct {
	repo     Repository
	client   UpstreamClient
	registry SymbolRegistry
	metrics  *observability.WarehouseMetrics
	cfg      Config
}

// New builds an Orchestrator. metrics may be nil (no-op).
func New(repo Repository, client UpstreamClient, registry SymbolRegistry, metrics *observability.WarehouseMetrics, cfg Config) *Orchestrator {
	if cfg.MaxConcurrentSymbols <= 0 {
		cfg.MaxConcurrentSymbols = DefaultConfig().MaxConcurrentSymbols
	}
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = DefaultConfig().ChunkDays
	}
	if cfg.GapRetryMaxAttempts <= 0 {
		cfg.GapRetryMaxAttempts = DefaultConfig().GapRetryMaxAttempts
	}
	if cfg.GapRetryBaseDelay <= 0 {
		cfg.GapRetryBaseDelay = DefaultConfig().GapRetryBaseDelay
	}
	if cfg.UpstreamCallTimeout <= 0 {
		cfg.UpstreamCallTimeout = DefaultConfig().UpstreamCallTimeout
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = DefaultConfig().JobDeadline
	}
	return &Orchestrator{repo: repo, client: client, registry: registry, metrics: metrics, cfg: cfg}
}

// RunJob validates req, creates a durable job record, and runs the
// backfill to completion (or until its deadline). The returned error is
// non-nil only when the job itself could not run (spec.md §4.5.7):
// submission validation failure, a registry load failure, or a failure to
// create the job record or mark it started. Individual
// unit and symbol failures never surface here — they land in the job's
// per-unit detail and per-symbol status instead.
func (o *Orchestrator) RunJob(ctx context.Context, req JobRequest) (string, error) {
	if len(req.Symbols) > 100 {
		return "", ErrTooManySymbols
	}
	if req.End.Before(req.Start) {
		return "", ErrInvalidRange
	}
	for _, tf := range req.Timeframes {
		if !marketdata.ValidTimeframes[tf] {
			return "", fmt.Errorf("%w: %s", ErrUnknownTimeframe, tf)
		}
	}

	active, err := o.registry.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("orchestrator: load registry: %w", err)
	}

	resolved, err := resolveSymbols(req, active)
	if err != nil {
		return "", err
	}
	if len(resolved) == 0 {
		return "", ErrNoSymbolsInScope
	}

	jobID := uuid.NewString()
	ctx = observability.WithRunInfo(ctx, observability.RunInfo{JobID: jobID})

	symbolNames := make([]string, len(resolved))
	for i, rs := range resolved {
		symbolNames[i] = rs.Symbol
	}
	timeframeNames := uniqueTimeframeStrings(resolved)

	if err := o.repo.CreateJob(ctx, jobID, repository.JobSpec{
		Symbols:    symbolNames,
		Timeframes: timeframeNames,
		RangeStart: req.Start,
		RangeEnd:   req.End,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: create job: %w", err)
	}
	if err := o.repo.MarkJobStarted(ctx, jobID); err != nil {
		return "", fmt.Errorf("orchestrator: mark job started: %w", err)
	}
	if o.metrics != nil {
		o.metrics.ActiveJobs.Add(1)
		defer o.metrics.ActiveJobs.Add(-1)
	}

	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobDeadline)
	defer cancel()

	jobStarted := time.Now()
	progress := newJobProgress(len(resolved))
	o.runSymbolGroups(jobCtx, jobID, resolved, req, progress)

	status := "completed"
	errMsg := ""
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		status = "failed"
		errMsg = ErrJobDeadlineExceeded.Error()
	}
	observability.RecordJobCompletion(ctx, status, len(resolved), progress.symbolsCompleted, time.Since(jobStarted))

	matrix := o.buildCompletenessMatrix(ctx, jobID, resolved, req)
	if err := o.repo.SetCompletenessMatrix(ctx, jobID, matrix); err != nil {
		observability.LogEvent(ctx, "error", "completeness_matrix_write_failed", map[string]any{"error": err.Error()})
	}

	if err := o.repo.FinishJob(ctx, jobID, status, errMsg); err != nil {
		return jobID, fmt.Errorf("orchestrator: finish job: %w", err)
	}
	return jobID, nil
}

// resolveSymbols defaults and validates req's symbol/timeframe selection
// against the active registry set (spec.md §4.5.1, §6).
func resolveSymbols(req JobRequest, active []registry.TrackedSymbol) ([]resolvedSymbol, error) {
	bySymbol := make(map[string]registry.TrackedSymbol, len(active))
	for _, s := range active {
		bySymbol[s.Symbol] = s
	}

	names := req.Symbols
	if len(names) == 0 {
		names = make([]string, len(active))
		for i, s := range active {
			names[i] = s.Symbol
		}
	}

	var out []resolvedSymbol
	for _, name := range names {
		tracked, ok := bySymbol[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, name)
		}
		timeframes := req.Timeframes
		if len(timeframes) == 0 {
			timeframes = tracked.Timeframes
		}
		if len(timeframes) == 0 {
			continue
		}
		out = append(out, resolvedSymbol{
			Symbol:     tracked.Symbol,
			AssetClass: tracked.AssetClass,
			Timeframes: timeframes,
		})
	}
	return out, nil
}

func uniqueTimeframeStrings(resolved []resolvedSymbol) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rs := range resolved {
		for _, tf := range rs.Timeframes {
			if !seen[string(tf)] {
				seen[string(tf)] = true
				out = append(out, string(tf))
			}
		}
	}
	return out
}

// chunkRange splits [start, end] into ascending sub-ranges no wider than
// chunkDays (spec.md §4.5.1).
func chunkRange(start, end time.Time, chunkDays int) []workUnitRange {
	if chunkDays <= 0 {
		chunkDays = DefaultConfig().ChunkDays
	}
	var ranges []workUnitRange
	cur := start
	step := time.Duration(chunkDays) * 24 * time.Hour
	for cur.Before(end) || cur.Equal(end) {
		chunkEnd := cur.Add(step)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		ranges = append(ranges, workUnitRange{Start: cur, End: chunkEnd})
		if !chunkEnd.After(cur) {
			break
		}
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return ranges
}

type workUnitRange struct {
	Start, End time.Time
}
