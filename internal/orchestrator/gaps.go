package orchestrator

import (
	"context"
	"time"

	"marketwarehouse/libs/marketdata"
	"marketwarehouse/libs/observability"
)

// buildCompletenessMatrix runs the post-load gap detection pass (spec.md
// §4.5.4) for every (symbol, timeframe) in scope, retries each detected
// gap with exponential backoff (spec.md §4.5.5: 2s, 4s, capped at
// Config.GapRetryMaxAttempts), and assembles the resulting per-pair report
// (spec.md §4.5.6). It never returns an error: a FindGaps failure for one
// pair is logged and that pair is recorded with GapsDetected == -1 so the
// matrix still reflects that completeness could not be determined.
func (o *Orchestrator) buildCompletenessMatrix(ctx context.Context, jobID string, resolved []resolvedSymbol, req JobRequest) CompletenessMatrix {
	var matrix CompletenessMatrix

	for _, sym := range resolved {
		for _, tf := range sym.Timeframes {
			entry := o.reconcileGaps(ctx, jobID, sym, tf, req)
			matrix = append(matrix, entry)
		}
	}

	return matrix
}

func (o *Orchestrator) reconcileGaps(ctx context.Context, jobID string, sym resolvedSymbol, tf marketdata.Timeframe, req JobRequest) CompletenessEntry {
	entry := CompletenessEntry{Symbol: sym.Symbol, Timeframe: string(tf)}

	gaps, err := o.repo.FindGaps(ctx, sym.Symbol, string(tf), req.Start, req.End)
	if err != nil {
		observability.LogEvent(ctx, "error", "gap_detection_failed", map[string]any{"symbol": sym.Symbol, "timeframe": string(tf), "error": err.Error()})
		entry.GapsDetected = -1
		return entry
	}
	entry.GapsDetected = len(gaps)
	if len(gaps) == 0 {
		entry.CompleteInRange = true
		return entry
	}
	if o.metrics != nil && o.metrics.GapsDetected != nil {
		o.metrics.GapsDetected.Add(float64(len(gaps)), "symbol", sym.Symbol)
	}

	backoff := o.cfg.GapRetryBaseDelay
	remaining := gaps
	for attempt := 1; attempt <= o.cfg.GapRetryMaxAttempts && len(remaining) > 0; attempt++ {
		entry.GapsRetried += len(remaining)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return entry
		}
		backoff *= 2

		for _, gap := range remaining {
			unit := workUnit{Symbol: sym.Symbol, AssetClass: sym.AssetClass, Timeframe: tf, Start: gap.Start, End: gap.End}
			o.processUnit(ctx, jobID, unit)
		}

		refreshed, err := o.repo.FindGaps(ctx, sym.Symbol, string(tf), req.Start, req.End)
		if err != nil {
			observability.LogEvent(ctx, "error", "gap_recheck_failed", map[string]any{"symbol": sym.Symbol, "timeframe": string(tf), "error": err.Error()})
			break
		}
		remaining = refreshed
	}

	entry.GapsFilled = entry.GapsDetected - len(remaining)
	entry.CompleteInRange = len(remaining) == 0
	return entry
}
