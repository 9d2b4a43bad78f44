package repository

import "errors"

// Storage failure taxonomy (spec.md §4.4).
var (
	// ErrStorageTransient covers connection failures and lock contention;
	// callers should retry.
	ErrStorageTransient = errors.New("storage: transient failure")

	// ErrStorageIntegrity means an OHLCV invariant was rejected at the
	// storage layer. Since the validator should have already rejected any
	// such candle, this indicates a validator bug and is logged and
	// re-raised rather than swallowed.
	ErrStorageIntegrity = errors.New("storage: invariant violation")

	// ErrJobNotFound means no job exists with the given id.
	ErrJobNotFound = errors.New("storage: job not found")

	// ErrSymbolNotFound means no tracked symbol exists with the given name.
	ErrSymbolNotFound = errors.New("storage: symbol not found")
)

// CHECK constraint names raised by Postgres for an invariant violation on
// the candles table (see migrations/000002_create_candles.up.sql). Any of
// these signals a storage-level integrity failure rather than a transient
// connection problem.
var integrityConstraints = map[string]bool{
	"candles_high_ge_max_oc":     true,
	"candles_low_le_min_oc":      true,
	"candles_high_ge_low":        true,
	"candles_ohlc_positive":      true,
	"candles_volume_nonnegative": true,
	"candles_score_range":        true,
	"candles_validated_score":    true,
}
