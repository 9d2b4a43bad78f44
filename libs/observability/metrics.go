package observability

import (
	"context"
	"time"
)

// RecordUpstreamCall logs a metric event for one upstream provider call.
func RecordUpstreamCall(ctx context.Context, provider, endpoint string, duration time.Duration, err error) {
	fields := map[string]any{
		"name":       "upstream_call",
		"provider":   provider,
		"endpoint":   endpoint,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "metric", fields)
}

// RecordUnitOutcome logs a metric event for a completed backfill work unit.
func RecordUnitOutcome(ctx context.Context, symbol, timeframe string, recordsInserted int, duration time.Duration, err error) {
	fields := map[string]any{
		"name":             "unit_outcome",
		"symbol":           symbol,
		"timeframe":        timeframe,
		"records_inserted": recordsInserted,
		"duration_ms":      duration.Milliseconds(),
		"success":          err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "metric", fields)
}

// RecordJobCompletion logs a metric event when a backfill job reaches a
// terminal state.
func RecordJobCompletion(ctx context.Context, status string, symbolsTotal, symbolsCompleted int, duration time.Duration) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name":              "job_completion",
		"status":            status,
		"symbols_total":     symbolsTotal,
		"symbols_completed": symbolsCompleted,
		"duration_ms":       duration.Milliseconds(),
	})
}
