package scheduler

import "errors"

// ErrJobAlreadyRunning means a job (daily or manual) already holds the
// single concurrency slot (spec.md §4.6: "global concurrency (default 1,
// to avoid rate-limit contention)").
var ErrJobAlreadyRunning = errors.New("scheduler: a job is already running")
