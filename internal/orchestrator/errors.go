package orchestrator

import "errors"

// Job-submission and job-level failure taxonomy (spec.md §6, §7). Only
// these propagate out of RunJob; individual unit and symbol failures are
// absorbed into per-unit and per-symbol status (spec.md §4.5.3, §7).
var (
	// ErrTooManySymbols means the request named more than 100 symbols.
	ErrTooManySymbols = errors.New("orchestrator: at most 100 symbols per job")

	// ErrInvalidRange means start is after end.
	ErrInvalidRange = errors.New("orchestrator: start must not be after end")

	// ErrUnknownTimeframe means a requested timeframe is outside the
	// closed set (spec.md §6).
	ErrUnknownTimeframe = errors.New("orchestrator: timeframe outside closed set")

	// ErrUnknownSymbol means a requested symbol is not an active tracked
	// symbol in the Registry.
	ErrUnknownSymbol = errors.New("orchestrator: symbol not known to registry")

	// ErrNoSymbolsInScope means after defaulting and filtering, no symbol
	// has any work to do in this job.
	ErrNoSymbolsInScope = errors.New("orchestrator: no symbols in scope for job")

	// ErrJobDeadlineExceeded means the job's configured deadline elapsed
	// before all units completed; all in-flight units were cancelled.
	ErrJobDeadlineExceeded = errors.New("orchestrator: job deadline exceeded")
)
