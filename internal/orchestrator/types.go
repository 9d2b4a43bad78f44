package orchestrator

import (
	"time"

	"marketwarehouse/internal/calendar"
	"marketwarehouse/libs/marketdata"
)

// JobRequest is the input to RunJob (spec.md §6's "Job submission"
// interface). Symbols and Timeframes are both optional: an empty Symbols
// list defaults to every active symbol in the Registry; an empty
// Timeframes list defaults to each symbol's own configured timeframes.
type JobRequest struct {
	Symbols    []string
	Timeframes []marketdata.Timeframe
	Start      time.Time
	End        time.Time
}

// resolvedSymbol is one symbol's work scope for this job, after defaulting
// and validating against the Registry.
type resolvedSymbol struct {
	Symbol     string
	AssetClass calendar.AssetClass
	Timeframes []marketdata.Timeframe
}

// workUnit is one (symbol, timeframe, sub-range) unit of work (spec.md
// §4.5.1). Sub-ranges are chunked so no single upstream call spans more
// than Config.ChunkDays.
type workUnit struct {
	Symbol     string
	AssetClass calendar.AssetClass
	Timeframe  marketdata.Timeframe
	Start      time.Time
	End        time.Time
}

// CompletenessEntry is one (symbol, timeframe) row of the completeness
// matrix (spec.md §4.5.6).
type CompletenessEntry struct {
	Symbol          string `json:"symbol"`
	Timeframe       string `json:"timeframe"`
	CompleteInRange bool   `json:"complete_in_range"`
	GapsDetected    int    `json:"gaps_detected"`
	GapsRetried     int    `json:"gaps_retried"`
	GapsFilled      int    `json:"gaps_filled"`
}

// CompletenessMatrix is the per-job structured report persisted alongside
// the job record (spec.md §4.5.6).
type CompletenessMatrix []CompletenessEntry
