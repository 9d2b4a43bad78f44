package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"marketwarehouse/internal/calendar"
	"marketwarehouse/internal/validator"
	"marketwarehouse/libs/observability"
)

// Repository is the persistence contract over the market-data warehouse
// schema (spec.md §4.4). All operations take an explicit context and
// participate in the caller's cancellation.
type Repository struct {
	db *sql.DB
}

// New wraps an already-connected database handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func classifyPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if integrityConstraints[pgErr.ConstraintName] {
			return fmt.Errorf("%w: %s", ErrStorageIntegrity, pgErr.ConstraintName)
		}
		// connection_exception, serialization_failure, deadlock_detected, etc.
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %v", ErrStorageTransient, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrStorageTransient, err)
}

// UpsertCandles persists one symbol/timeframe batch in a single
// transaction: the whole batch commits or none does. Returns the number
// of rows touched.
func (r *Repository) UpsertCandles(ctx context.Context, symbol string, timeframe string, candles []validator.ValidatedCandle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classifyPgErr(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, source,
                      validated, quality_score, validation_notes, gap_detected, volume_anomaly)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
  open = EXCLUDED.open,
  high = EXCLUDED.high,
  low = EXCLUDED.low,
  close = EXCLUDED.close,
  volume = EXCLUDED.volume,
  source = EXCLUDED.source,
  validated = EXCLUDED.validated,
  quality_score = EXCLUDED.quality_score,
  validation_notes = EXCLUDED.validation_notes,
  gap_detected = EXCLUDED.gap_detected,
  volume_anomaly = EXCLUDED.volume_anomaly
`)
	if err != nil {
		return 0, classifyPgErr(err)
	}
	defer stmt.Close()

	touched := 0
	for _, c := range candles {
		notes := pqStringArray(c.ValidationNotes)
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close,
			c.Volume, c.Source, c.Validated, c.QualityScore, notes, c.GapDetected, c.VolumeAnomaly)
		if err != nil {
			return 0, classifyPgErr(err)
		}
		touched++
	}

	if err := tx.Commit(); err != nil {
		return 0, classifyPgErr(err)
	}
	return touched, nil
}

// FindGaps returns ordered business-day subranges within [start, end] that
// have no stored candle for (symbol, timeframe). The business-day calendar
// is chosen from the symbol's tracked asset class.
func (r *Repository) FindGaps(ctx context.Context, symbol string, timeframe string, start, end time.Time) ([]DateRange, error) {
	var assetClassStr string
	err := r.db.QueryRowContext(ctx, `SELECT asset_class FROM tracked_symbols WHERE symbol = $1`, symbol).Scan(&assetClassStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSymbolNotFound
		}
		return nil, classifyPgErr(err)
	}
	assetClass := calendar.AssetClass(assetClassStr)

	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT date_trunc('day', timestamp) AS day
FROM candles
WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp <= $4
ORDER BY day
`, symbol, timeframe, start, end)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, classifyPgErr(err)
		}
		present[day.UTC().Format("2006-01-02")] = true
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgErr(err)
	}

	businessDays := calendar.BusinessDaysInRange(assetClass, start, end)

	var gaps []DateRange
	var cur *DateRange
	for _, day := range businessDays {
		key := day.Format("2006-01-02")
		if present[key] {
			cur = nil
			continue
		}
		if cur == nil {
			gaps = append(gaps, DateRange{Start: day, End: day, Days: 1})
			cur = &gaps[len(gaps)-1]
			continue
		}
		cur.End = day
		cur.Days++
	}

	return gaps, nil
}

// UpdateSymbolStatus atomically writes a symbol's backfill status, clearing
// the error message on success and stamping last_backfill_at in either
// case.
func (r *Repository) UpdateSymbolStatus(ctx context.Context, symbol, status string, errMsg *string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE tracked_symbols
SET backfill_status = $2, last_error = $3, last_backfill_at = now(), updated_at = now()
WHERE symbol = $1
`, symbol, status, errMsg)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// GetSymbolStats summarizes the stored history for one symbol.
func (r *Repository) GetSymbolStats(ctx context.Context, symbol string) (SymbolStats, error) {
	stats := SymbolStats{Symbol: symbol}

	err := r.db.QueryRowContext(ctx, `
SELECT
  count(*),
  coalesce(min(timestamp), '0001-01-01'),
  coalesce(max(timestamp), '0001-01-01'),
  coalesce(avg(CASE WHEN validated THEN 1.0 ELSE 0.0 END), 0),
  count(*) FILTER (WHERE gap_detected)
FROM candles
WHERE symbol = $1
`, symbol).Scan(&stats.RecordCount, &stats.EarliestRecord, &stats.LatestRecord, &stats.ValidationRate, &stats.GapsDetected)
	if err != nil {
		return SymbolStats{}, classifyPgErr(err)
	}
	return stats, nil
}

// GetSymbolsDetailed lists every tracked symbol, ordered by symbol.
func (r *Repository) GetSymbolsDetailed(ctx context.Context) ([]SymbolSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT symbol, asset_class, active, timeframes, backfill_status, last_backfill_at, coalesce(last_error, '')
FROM tracked_symbols
ORDER BY symbol
`)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	var summaries []SymbolSummary
	for rows.Next() {
		var s SymbolSummary
		var lastBackfillAt sql.NullTime
		var timeframes []string
		if err := rows.Scan(&s.Symbol, &s.AssetClass, &s.Active, pqStringArrayScan(&timeframes), &s.BackfillStatus, &lastBackfillAt, &s.LastError); err != nil {
			return nil, classifyPgErr(err)
		}
		s.Timeframes = timeframes
		if lastBackfillAt.Valid {
			s.LastBackfillAt = &lastBackfillAt.Time
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgErr(err)
	}
	return summaries, nil
}

// AppendAuditEntry appends one immutable upstream-call audit record.
func (r *Repository) AppendAuditEntry(ctx context.Context, entry AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO upstream_audit_log (symbol, timeframe, fetched_at, records_fetched, records_inserted,
                                 records_updated, response_time_ms, success, error_detail, remaining_quota)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, entry.Symbol, entry.Timeframe, entry.FetchedAt, entry.RecordsFetched, entry.RecordsInserted,
		entry.RecordsUpdated, entry.ResponseTime.Milliseconds(), entry.Success, nullIfEmpty(entry.ErrorDetail), entry.RemainingQuota)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// CreateJob inserts a new job record under the caller-supplied jobID in the
// queued state.
func (r *Repository) CreateJob(ctx context.Context, jobID string, spec JobSpec) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO backfill_jobs (job_id, symbols, timeframes, range_start, range_end, status, symbols_total)
VALUES ($1,$2,$3,$4,$5,'queued',$6)
`, jobID, pqStringArray(spec.Symbols), pqStringArray(spec.Timeframes), spec.RangeStart, spec.RangeEnd, len(spec.Symbols))
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// UpdateJobProgress writes a coalesced progress snapshot. Callers should
// call this at most once per unit transition.
func (r *Repository) UpdateJobProgress(ctx context.Context, jobID string, progress JobProgress) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE backfill_jobs
SET status = $2, progress_pct = $3, symbols_completed = $4, symbols_total = $5,
    current_symbol = $6, total_records_inserted = $7
WHERE job_id = $1
`, jobID, progress.Status, progress.ProgressPct, progress.SymbolsCompleted, progress.SymbolsTotal,
		nullIfEmpty(progress.CurrentSymbol), progress.TotalRecordsInserted)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// FinishJob transitions a job to a terminal state (completed or failed).
func (r *Repository) FinishJob(ctx context.Context, jobID, status, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE backfill_jobs
SET status = $2, error_message = $3, completed_at = now()
WHERE job_id = $1
`, jobID, status, nullIfEmpty(errMsg))
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// MarkJobStarted transitions a queued job to running and stamps started_at.
func (r *Repository) MarkJobStarted(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE backfill_jobs SET status = 'running', started_at = now() WHERE job_id = $1
`, jobID)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// AppendJobDetail upserts a (job, symbol, timeframe) progress detail row.
func (r *Repository) AppendJobDetail(ctx context.Context, unit JobUnit) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO backfill_job_units (job_id, symbol, timeframe, status, records_fetched, records_inserted, duration_ms, error_message, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
ON CONFLICT (job_id, symbol, timeframe) DO UPDATE SET
  status = EXCLUDED.status,
  records_fetched = EXCLUDED.records_fetched,
  records_inserted = EXCLUDED.records_inserted,
  duration_ms = EXCLUDED.duration_ms,
  error_message = EXCLUDED.error_message,
  updated_at = now()
`, unit.JobID, unit.Symbol, unit.Timeframe, unit.Status, unit.RecordsFetched, unit.RecordsInserted,
		unit.Duration.Milliseconds(), nullIfEmpty(unit.ErrorMessage))
	if err != nil {
		return classifyPgErr(err)
	}

	observability.LogUnitTransition(ctx, unit.Symbol, unit.Timeframe, unit.Status, errFromMessage(unit.ErrorMessage))
	return nil
}

// GetJob loads a job's durable record, used to resume after a process
// restart.
func (r *Repository) GetJob(ctx context.Context, jobID string) (JobRecord, error) {
	var rec JobRecord
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString
	var currentSymbol sql.NullString
	var symbols, timeframes []string

	err := r.db.QueryRowContext(ctx, `
SELECT job_id, symbols, timeframes, range_start, range_end, status, progress_pct,
       symbols_completed, symbols_total, coalesce(current_symbol, ''), total_records_inserted,
       coalesce(error_message, ''), created_at, started_at, completed_at
FROM backfill_jobs
WHERE job_id = $1
`, jobID).Scan(&rec.JobID, pqStringArrayScan(&symbols), pqStringArrayScan(&timeframes), &rec.RangeStart, &rec.RangeEnd,
		&rec.Status, &rec.ProgressPct, &rec.SymbolsCompleted, &rec.SymbolsTotal, &currentSymbol, &rec.TotalRecordsInserted,
		&errMsg, &rec.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobRecord{}, ErrJobNotFound
		}
		return JobRecord{}, classifyPgErr(err)
	}

	rec.Symbols = symbols
	rec.Timeframes = timeframes
	rec.CurrentSymbol = currentSymbol.String
	rec.ErrorMessage = errMsg.String
	if startedAt.Valid {
		rec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

// SetCompletenessMatrix persists the job's per-(symbol,timeframe)
// completeness report (spec.md §4.5.6) as the job record's JSONB
// completeness_matrix column.
func (r *Repository) SetCompletenessMatrix(ctx context.Context, jobID string, matrix any) error {
	raw, err := json.Marshal(matrix)
	if err != nil {
		return fmt.Errorf("marshal completeness matrix: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE backfill_jobs SET completeness_matrix = $2 WHERE job_id = $1
`, jobID, raw)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

func errFromMessage(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
