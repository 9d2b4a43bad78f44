package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"marketwarehouse/internal/repository"
	"marketwarehouse/internal/validator"
	"marketwarehouse/libs/observability"
)

// jobProgress is a mutex-protected, coalesced progress snapshot shared by
// every symbol goroutine in a job (spec.md §5: "no finer than one update
// per unit transition", and never more than one writer updating the job
// row concurrently).
type jobProgress struct {
	mu                   sync.Mutex
	writeMu              sync.Mutex // serializes snapshot + job-row write
	symbolsTotal         int
	symbolsCompleted     int
	totalRecordsInserted int
}

func newJobProgress(symbolsTotal int) *jobProgress {
	return &jobProgress{symbolsTotal: symbolsTotal}
}

func (p *jobProgress) recordSymbolDone(recordsInserted int) repository.JobProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbolsCompleted++
	p.totalRecordsInserted += recordsInserted
	pct := 0.0
	if p.symbolsTotal > 0 {
		pct = float64(p.symbolsCompleted) / float64(p.symbolsTotal) * 100
	}
	return repository.JobProgress{
		Status:               "running",
		ProgressPct:          pct,
		SymbolsCompleted:     p.symbolsCompleted,
		SymbolsTotal:         p.symbolsTotal,
		TotalRecordsInserted: p.totalRecordsInserted,
	}
}

// runSymbolGroups partitions resolved into groups of at most
// Config.MaxConcurrentSymbols, runs each group's symbols concurrently with
// an inter-symbol start stagger, and pauses InterGroupPause between groups
// (spec.md §4.5.2). It returns once every symbol has been processed or the
// job context has been cancelled.
func (o *Orchestrator) runSymbolGroups(ctx context.Context, jobID string, resolved []resolvedSymbol, req JobRequest, progress *jobProgress) {
	groupSize := o.cfg.MaxConcurrentSymbols
	for start := 0; start < len(resolved); start += groupSize {
		if ctx.Err() != nil {
			return
		}
		end := start + groupSize
		if end > len(resolved) {
			end = len(resolved)
		}
		group := resolved[start:end]

		var wg sync.WaitGroup
		for i, sym := range group {
			wg.Add(1)
			go func(i int, sym resolvedSymbol) {
				defer wg.Done()
				if i > 0 {
					select {
					case <-time.After(time.Duration(i) * o.cfg.InterSymbolStagger):
					case <-ctx.Done():
						return
					}
				}
				o.processSymbol(ctx, jobID, sym, req, progress)
			}(i, sym)
		}
		wg.Wait()

		if end < len(resolved) && ctx.Err() == nil {
			select {
			case <-time.After(o.cfg.InterGroupPause):
			case <-ctx.Done():
				return
			}
		}
	}
}

// processSymbol runs every timeframe for sym sequentially (spec.md
// §4.5.2: "timeframes within a symbol are processed sequentially, not
// concurrently") and rolls the outcome up into the symbol's tracked-symbol
// status row.
func (o *Orchestrator) processSymbol(ctx context.Context, jobID string, sym resolvedSymbol, req JobRequest, progress *jobProgress) {
	ctx = observability.WithRunInfo(ctx, observability.RunInfo{JobID: jobID, Symbol: sym.Symbol})

	if err := o.repo.UpdateSymbolStatus(ctx, sym.Symbol, "in_progress", nil); err != nil {
		observability.LogEvent(ctx, "error", "symbol_status_write_failed", map[string]any{"symbol": sym.Symbol, "error": err.Error()})
	}
	observability.LogSymbolStatus(ctx, sym.Symbol, "in_progress", nil)

	recordsInserted := 0
	var firstErr error

	for _, tf := range sym.Timeframes {
		if ctx.Err() != nil {
			firstErr = ctx.Err()
			break
		}
		for _, r := range chunkRange(req.Start, req.End, o.cfg.ChunkDays) {
			unit := workUnit{Symbol: sym.Symbol, AssetClass: sym.AssetClass, Timeframe: tf, Start: r.Start, End: r.End}
			outcome := o.processUnit(ctx, jobID, unit)
			recordsInserted += outcome.recordsInserted
			if outcome.err != nil && firstErr == nil {
				firstErr = outcome.err
			}
		}
	}

	status := "completed"
	var errMsg *string
	if firstErr != nil {
		status = "failed"
		msg := firstErr.Error()
		errMsg = &msg
	}
	if err := o.repo.UpdateSymbolStatus(ctx, sym.Symbol, status, errMsg); err != nil {
		observability.LogEvent(ctx, "error", "symbol_status_write_failed", map[string]any{"symbol": sym.Symbol, "error": err.Error()})
	}
	observability.LogSymbolStatus(ctx, sym.Symbol, status, firstErr)

	progress.writeMu.Lock()
	snapshot := progress.recordSymbolDone(recordsInserted)
	snapshot.CurrentSymbol = sym.Symbol
	if err := o.repo.UpdateJobProgress(ctx, jobID, snapshot); err != nil {
		observability.LogEvent(ctx, "error", "job_progress_write_failed", map[string]any{"job_id": jobID, "error": err.Error()})
	}
	progress.writeMu.Unlock()
}

type unitOutcome struct {
	recordsFetched  int
	recordsInserted int
	err             error
}

// processUnit implements spec.md §4.5.3's per-unit pipeline: fetch, always
// record an audit entry, validate on success, upsert, and record a job-unit
// detail row. A fetch error ends the unit but never the symbol or job.
func (o *Orchestrator) processUnit(ctx context.Context, jobID string, unit workUnit) unitOutcome {
	unitID := observability.NewUnitID()
	unitCtx := observability.WithRunInfo(ctx, observability.RunInfo{JobID: jobID, UnitID: unitID, Symbol: unit.Symbol})

	callCtx, cancel := context.WithTimeout(unitCtx, o.cfg.UpstreamCallTimeout)
	defer cancel()

	started := time.Now()
	raw, fetchErr := o.client.FetchCandles(callCtx, unit.Symbol, unit.AssetClass, unit.Timeframe, unit.Start, unit.End)
	elapsed := time.Since(started)

	entry := repository.AuditEntry{
		Symbol:         unit.Symbol,
		Timeframe:      string(unit.Timeframe),
		FetchedAt:      started,
		RecordsFetched: len(raw),
		ResponseTime:   elapsed,
		Success:        fetchErr == nil,
	}
	if fetchErr != nil {
		entry.ErrorDetail = fetchErr.Error()
	}
	if err := o.repo.AppendAuditEntry(unitCtx, entry); err != nil {
		observability.LogEvent(unitCtx, "error", "audit_entry_write_failed", map[string]any{"error": err.Error()})
	}
	observability.LogUpstreamCall(unitCtx, "marketdata", unit.Symbol+"/"+string(unit.Timeframe), elapsed, fetchErr)
	observability.RecordUpstreamCall(unitCtx, "marketdata", string(unit.Timeframe), elapsed, fetchErr)
	if o.metrics != nil && o.metrics.UpstreamLatency != nil {
		o.metrics.UpstreamLatency.ObserveDuration(elapsed, "provider", "marketdata")
	}

	if fetchErr != nil {
		if o.metrics != nil && o.metrics.UpstreamErrors != nil {
			o.metrics.UpstreamErrors.Inc("provider", "marketdata")
		}
		detail := repository.JobUnit{JobID: jobID, Symbol: unit.Symbol, Timeframe: string(unit.Timeframe), Status: "failed", Duration: elapsed, ErrorMessage: fetchErr.Error()}
		o.recordUnitDetail(unitCtx, jobID, detail)
		return unitOutcome{err: fetchErr}
	}

	if len(raw) == 0 {
		detail := repository.JobUnit{JobID: jobID, Symbol: unit.Symbol, Timeframe: string(unit.Timeframe), Status: "completed", Duration: elapsed}
		o.recordUnitDetail(unitCtx, jobID, detail)
		return unitOutcome{}
	}

	validated := validator.Validate(raw)
	if o.metrics != nil && o.metrics.ValidationRejections != nil {
		for _, vc := range validated {
			if !vc.Validated {
				o.metrics.ValidationRejections.Inc()
			}
		}
	}
	inserted, upsertErr := o.repo.UpsertCandles(unitCtx, unit.Symbol, string(unit.Timeframe), validated)
	if o.metrics != nil && o.metrics.CandlesUpserted != nil {
		o.metrics.CandlesUpserted.Add(float64(inserted), "symbol", unit.Symbol, "timeframe", string(unit.Timeframe))
	}

	status := "completed"
	errMsg := ""
	if upsertErr != nil {
		status = "failed"
		errMsg = upsertErr.Error()
	}
	detail := repository.JobUnit{
		JobID:           jobID,
		Symbol:          unit.Symbol,
		Timeframe:       string(unit.Timeframe),
		Status:          status,
		RecordsFetched:  len(raw),
		RecordsInserted: inserted,
		Duration:        elapsed,
		ErrorMessage:    errMsg,
	}
	o.recordUnitDetail(unitCtx, jobID, detail)

	return unitOutcome{recordsFetched: len(raw), recordsInserted: inserted, err: upsertErr}
}

func (o *Orchestrator) recordUnitDetail(ctx context.Context, jobID string, detail repository.JobUnit) {
	if err := o.repo.AppendJobDetail(ctx, detail); err != nil {
		observability.LogEvent(ctx, "error", "job_detail_write_failed", map[string]any{"job_id": jobID, "error": err.Error()})
	}
	if o.metrics != nil && o.metrics.UnitsCompleted != nil {
		o.metrics.UnitsCompleted.Add(1, "status", detail.Status)
	}
	var unitErr error
	if detail.ErrorMessage != "" {
		unitErr = errors.New(detail.ErrorMessage)
	}
	observability.LogUnitTransition(ctx, detail.Symbol, detail.Timeframe, detail.Status, unitErr)
	observability.RecordUnitOutcome(ctx, detail.Symbol, detail.Timeframe, detail.RecordsInserted, detail.Duration, unitErr)
}
