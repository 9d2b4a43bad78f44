package repository

import "time"

// DateRange is an inclusive [Start, End] span of missing business days for
// one (symbol, timeframe), ready for batched refetch.
type DateRange struct {
	Start time.Time
	End   time.Time
	Days  int
}

// SymbolStats summarizes one tracked symbol's stored history.
type SymbolStats struct {
	Symbol         string
	RecordCount    int
	EarliestRecord time.Time
	LatestRecord   time.Time
	ValidationRate float64
	GapsDetected   int
}

// SymbolSummary is one row of the symbol listing used by the query side.
type SymbolSummary struct {
	Symbol         string
	AssetClass     string
	Active         bool
	Timeframes     []string
	BackfillStatus string
	LastBackfillAt *time.Time
	LastError      string
}

// AuditEntry is one immutable record of an upstream call outcome.
type AuditEntry struct {
	Symbol           string
	Timeframe        string
	FetchedAt        time.Time
	RecordsFetched   int
	RecordsInserted  int
	RecordsUpdated   int
	ResponseTime     time.Duration
	Success          bool
	ErrorDetail      string
	RemainingQuota   *int
}

// JobSpec is the input to CreateJob.
type JobSpec struct {
	Symbols    []string
	Timeframes []string
	RangeStart time.Time
	RangeEnd   time.Time
}

// JobProgress is a coalesced snapshot written at most once per unit
// transition (spec §5: "no finer than one update per unit transition").
type JobProgress struct {
	Status                string
	ProgressPct            float64
	SymbolsCompleted       int
	SymbolsTotal           int
	CurrentSymbol          string
	TotalRecordsInserted   int
}

// JobUnit is one (job, symbol, timeframe) progress detail row.
type JobUnit struct {
	JobID            string
	Symbol           string
	Timeframe        string
	Status           string
	RecordsFetched   int
	RecordsInserted  int
	Duration         time.Duration
	ErrorMessage     string
}

// JobRecord is the durable state of one backfill job.
type JobRecord struct {
	JobID                string
	Symbols              []string
	Timeframes           []string
	RangeStart           time.Time
	RangeEnd             time.Time
	Status               string
	ProgressPct          float64
	SymbolsCompleted     int
	SymbolsTotal         int
	CurrentSymbol        string
	TotalRecordsInserted int
	ErrorMessage         string
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
}
