package observability

import "context"

type contextKey string

const (
	jobIDKey  contextKey = "job_id"
	unitIDKey contextKey = "unit_id"
	symbolKey contextKey = "symbol"
)

// RunInfo carries trace identifiers through a request context.
// JobID is per-backfill-job. UnitID is per (symbol, timeframe, sub-range)
// work unit within that job.
type RunInfo struct {
	JobID  string
	UnitID string
	Symbol string
}

func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	if info.JobID != "" {
		ctx = context.WithValue(ctx, jobIDKey, info.JobID)
	}
	if info.UnitID != "" {
		ctx = context.WithValue(ctx, unitIDKey, info.UnitID)
	}
	if info.Symbol != "" {
		ctx = context.WithValue(ctx, symbolKey, info.Symbol)
	}
	return ctx
}

func RunInfoFromContext(ctx context.Context) RunInfo {
	info := RunInfo{}
	if value := ctx.Value(jobIDKey); value != nil {
		if jobID, ok := value.(string); ok {
			info.JobID = jobID
		}
	}
	if value := ctx.Value(unitIDKey); value != nil {
		if unitID, ok := value.(string); ok {
			info.UnitID = unitID
		}
	}
	if value := ctx.Value(symbolKey); value != nil {
		if symbol, ok := value.(string); ok {
			info.Symbol = symbol
		}
	}
	return info
}

// WithSymbol attaches the symbol under processing to the context, so log
// events emitted deep in the upstream client carry it without
// threading it through every call signature.
func WithSymbol(ctx context.Context, symbol string) context.Context {
	if symbol == "" {
		return ctx
	}
	return context.WithValue(ctx, symbolKey, symbol)
}
