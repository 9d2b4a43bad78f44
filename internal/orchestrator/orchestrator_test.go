package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketwarehouse/internal/calendar"
	"marketwarehouse/internal/registry"
	"marketwarehouse/internal/repository"
	"marketwarehouse/internal/validator"
	"marketwarehouse/libs/marketdata"
)

// fakeRepository is an in-memory stand-in for *internal/repository.Repository.
type fakeRepository struct {
	mu          sync.Mutex
	candles     map[string][]validator.ValidatedCandle
	audits      []repository.AuditEntry
	symbolState map[string]string
	jobs        map[string]repository.JobSpec
	jobDetails  []repository.JobUnit
	matrix      any
	finished    string
	finishErr   string
	gaps        map[string][]repository.DateRange

	upsertErr error
	findGapsErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		candles:     make(map[string][]validator.ValidatedCandle),
		symbolState: make(map[string]string),
		jobs:        make(map[string]repository.JobSpec),
		gaps:        make(map[string][]repository.DateRange),
	}
}

func key(symbol, timeframe string) string { return symbol + "|" + timeframe }

func (f *fakeRepository) UpsertCandles(ctx context.Context, symbol, timeframe string, candles []validator.ValidatedCandle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.candles[key(symbol, timeframe)] = append(f.candles[key(symbol, timeframe)], candles...)
	return len(candles), nil
}

func (f *fakeRepository) FindGaps(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]repository.DateRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findGapsErr != nil {
		return nil, f.findGapsErr
	}
	return f.gaps[key(symbol, timeframe)], nil
}

func (f *fakeRepository) UpdateSymbolStatus(ctx context.Context, symbol, status string, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbolState[symbol] = status
	return nil
}

func (f *fakeRepository) AppendAuditEntry(ctx context.Context, entry repository.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeRepository) CreateJob(ctx context.Context, jobID string, spec repository.JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = spec
	return nil
}

func (f *fakeRepository) MarkJobStarted(ctx context.Context, jobID string) error { return nil }

func (f *fakeRepository) UpdateJobProgress(ctx context.Context, jobID string, progress repository.JobProgress) error {
	return nil
}

func (f *fakeRepository) FinishJob(ctx context.Context, jobID, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = status
	f.finishErr = errMsg
	return nil
}

func (f *fakeRepository) AppendJobDetail(ctx context.Context, unit repository.JobUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobDetails = append(f.jobDetails, unit)
	return nil
}

func (f *fakeRepository) SetCompletenessMatrix(ctx context.Context, jobID string, matrix any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matrix = matrix
	return nil
}

// fakeUpstream returns a fixed batch of candles (or an error) for every
// FetchCandles call, regardless of the requested range.
type fakeUpstream struct {
	mu      sync.Mutex
	calls   int
	batch   []validator.RawCandle
	err     error
	onCall  func(n int) ([]validator.RawCandle, error)
}

func (f *fakeUpstream) FetchCandles(ctx context.Context, symbol string, assetClass marketdata.AssetClass, timeframe marketdata.Timeframe, start, end time.Time) ([]validator.RawCandle, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.onCall != nil {
		return f.onCall(n)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

type fakeRegistry struct {
	symbols []registry.TrackedSymbol
	err     error
}

func (f *fakeRegistry) ListActive(ctx context.Context) ([]registry.TrackedSymbol, error) {
	return f.symbols, f.err
}

func sampleCandles(symbol string, n int) []validator.RawCandle {
	out := make([]validator.RawCandle, n)
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range out {
		day := base.AddDate(0, 0, i)
		out[i] = validator.RawCandle{
			Symbol: symbol, Timestamp: day,
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000, Source: "polygon",
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InterSymbolStagger = time.Millisecond
	cfg.InterGroupPause = time.Millisecond
	cfg.UpstreamCallTimeout = 5 * time.Second
	cfg.JobDeadline = 5 * time.Second
	cfg.GapRetryMaxAttempts = 2
	cfg.GapRetryBaseDelay = time.Millisecond
	return cfg
}

func TestRunJobCleanBatchCompletesJob(t *testing.T) {
	repo := newFakeRepository()
	upstream := &fakeUpstream{batch: sampleCandles("AAPL", 3)}
	reg := &fakeRegistry{symbols: []registry.TrackedSymbol{
		{Symbol: "AAPL", AssetClass: calendar.AssetStock, Timeframes: []marketdata.Timeframe{marketdata.Timeframe1Day}},
	}}

	o := New(repo, upstream, reg, nil, testConfig())
	jobID, err := o.RunJob(context.Background(), JobRequest{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected non-empty job id")
	}
	if repo.finished != "completed" {
		t.Fatalf("expected job status completed, got %q (err %q)", repo.finished, repo.finishErr)
	}
	if repo.symbolState["AAPL"] != "completed" {
		t.Fatalf("expected AAPL completed, got %q", repo.symbolState["AAPL"])
	}
	if len(repo.candles[key("AAPL", "1d")]) != 3 {
		t.Fatalf("expected 3 candles upserted, got %d", len(repo.candles[key("AAPL", "1d")]))
	}
}

func TestRunJobUpstreamErrorFailsSymbolNotJob(t *testing.T) {
	repo := newFakeRepository()
	upstream := &fakeUpstream{err: marketdata.ErrUpstreamRateLimited}
	reg := &fakeRegistry{symbols: []registry.TrackedSymbol{
		{Symbol: "MSFT", AssetClass: calendar.AssetStock, Timeframes: []marketdata.Timeframe{marketdata.Timeframe1Day}},
	}}

	o := New(repo, upstream, reg, nil, testConfig())
	jobID, err := o.RunJob(context.Background(), JobRequest{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id even when a symbol fails")
	}
	if repo.finished != "completed" {
		t.Fatalf("job status should stay completed when only a symbol fails, got %q", repo.finished)
	}
	if repo.symbolState["MSFT"] != "failed" {
		t.Fatalf("expected MSFT marked failed, got %q", repo.symbolState["MSFT"])
	}
	if len(repo.audits) == 0 || repo.audits[0].Success {
		t.Fatalf("expected a failed audit entry, got %+v", repo.audits)
	}
}

func TestRunJobRejectsUnknownSymbol(t *testing.T) {
	repo := newFakeRepository()
	upstream := &fakeUpstream{}
	reg := &fakeRegistry{symbols: []registry.TrackedSymbol{
		{Symbol: "AAPL", AssetClass: calendar.AssetStock, Timeframes: []marketdata.Timeframe{marketdata.Timeframe1Day}},
	}}

	o := New(repo, upstream, reg, nil, testConfig())
	_, err := o.RunJob(context.Background(), JobRequest{
		Symbols: []string{"ZZZZ"},
		Start:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Fatal("expected ErrUnknownSymbol")
	}
}

func TestRunJobRejectsTooManySymbols(t *testing.T) {
	repo := newFakeRepository()
	upstream := &fakeUpstream{}
	reg := &fakeRegistry{}

	symbols := make([]string, 101)
	for i := range symbols {
		symbols[i] = "SYM"
	}

	o := New(repo, upstream, reg, nil, testConfig())
	_, err := o.RunJob(context.Background(), JobRequest{
		Symbols: symbols,
		Start:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != ErrTooManySymbols {
		t.Fatalf("expected ErrTooManySymbols, got %v", err)
	}
}

func TestRunJobConcurrentSymbolsBothComplete(t *testing.T) {
	repo := newFakeRepository()
	upstream := &fakeUpstream{batch: sampleCandles("X", 1)}
	reg := &fakeRegistry{symbols: []registry.TrackedSymbol{
		{Symbol: "AAPL", AssetClass: calendar.AssetStock, Timeframes: []marketdata.Timeframe{marketdata.Timeframe1Day}},
		{Symbol: "MSFT", AssetClass: calendar.AssetStock, Timeframes: []marketdata.Timeframe{marketdata.Timeframe1Day}},
	}}

	cfg := testConfig()
	cfg.MaxConcurrentSymbols = 2
	o := New(repo, upstream, reg, nil, cfg)

	jobID, err := o.RunJob(context.Background(), JobRequest{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected non-empty job id")
	}
	if repo.symbolState["AAPL"] != "completed" || repo.symbolState["MSFT"] != "completed" {
		t.Fatalf("expected both symbols completed, got %+v", repo.symbolState)
	}
}

func TestReconcileGapsRetriesUntilFilled(t *testing.T) {
	repo := newFakeRepository()
	gapRange := repository.DateRange{
		Start: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		Days:  1,
	}
	repo.gaps[key("AAPL", "1d")] = []repository.DateRange{gapRange}

	// The first retry's upstream call succeeds and "fills" the gap by
	// clearing it from the fake's FindGaps table, so the post-retry
	// recheck should find the range complete.
	upstream := &fakeUpstream{onCall: func(n int) ([]validator.RawCandle, error) {
		repo.mu.Lock()
		repo.gaps[key("AAPL", "1d")] = nil
		repo.mu.Unlock()
		return sampleCandles("AAPL", 1), nil
	}}

	o := New(repo, upstream, &fakeRegistry{}, nil, testConfig())
	o.cfg.GapRetryMaxAttempts = 2

	entry := o.reconcileGaps(context.Background(), "job-1",
		resolvedSymbol{Symbol: "AAPL", AssetClass: calendar.AssetStock, Timeframes: []marketdata.Timeframe{marketdata.Timeframe1Day}},
		marketdata.Timeframe1Day,
		JobRequest{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
	)
	if !entry.CompleteInRange {
		t.Fatalf("expected gap to be filled after retry, got %+v", entry)
	}
	if entry.GapsDetected != 1 || entry.GapsFilled != 1 {
		t.Fatalf("expected 1 gap detected and filled, got %+v", entry)
	}
	if upstream.calls != 1 {
		t.Fatalf("expected exactly one retry call once the gap closes, got %d", upstream.calls)
	}
}

func TestReconcileGapsNoGapsSkipsRetry(t *testing.T) {
	repo := newFakeRepository()
	upstream := &fakeUpstream{}
	o := New(repo, upstream, &fakeRegistry{}, nil, testConfig())

	entry := o.reconcileGaps(context.Background(), "job-1",
		resolvedSymbol{Symbol: "AAPL", AssetClass: calendar.AssetStock, Timeframes: []marketdata.Timeframe{marketdata.Timeframe1Day}},
		marketdata.Timeframe1Day,
		JobRequest{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
	)
	if !entry.CompleteInRange || entry.GapsDetected != 0 {
		t.Fatalf("expected no gaps found, got %+v", entry)
	}
	if upstream.calls != 0 {
		t.Fatalf("expected no retry calls when FindGaps reports no gaps, got %d", upstream.calls)
	}
}

func TestChunkRangeSplitsWideRanges(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	ranges := chunkRange(start, end, 365)
	if len(ranges) < 2 {
		t.Fatalf("expected at least 2 chunks over a 2-year range, got %d", len(ranges))
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start.Before(ranges[i-1].End) {
			t.Fatalf("chunks must be ascending and non-overlapping: %+v", ranges)
		}
	}
	if !ranges[len(ranges)-1].End.Equal(end) {
		t.Fatalf("last chunk must end exactly at end, got %v", ranges[len(ranges)-1].End)
	}
}
