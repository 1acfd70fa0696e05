package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoCycles is returned when the audit log holds no matching record.
var ErrNoCycles = errors.New("no fetch cycles recorded")

// RecordCycle appends one audit record for a completed fetch cycle.
// Records are immutable; a missing ID is filled with a fresh UUID.
func (db *DB) RecordCycle(ctx context.Context, log FetchLog) (string, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.FetchedAt.IsZero() {
		log.FetchedAt = time.Now().UTC()
	}

	var errText sql.NullString
	if log.Error != "" {
		errText = sql.NullString{String: log.Error, Valid: true}
	}
	var resetAt sql.NullTime
	if log.RateResetAt != nil {
		resetAt = sql.NullTime{Time: log.RateResetAt.UTC(), Valid: true}
	}
	var remaining sql.NullInt64
	if log.RateRemaining != nil {
		remaining = sql.NullInt64{Int64: int64(*log.RateRemaining), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO fetch_logs
			(id, fetched_at, next_due_at, status, duration_ms, api_calls, duplicates, new_items, error, rate_remaining, rate_reset_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.FetchedAt.UTC(), log.NextDueAt.UTC(), string(log.Status),
		log.Duration.Milliseconds(), log.APICalls, log.Duplicates, log.NewItems,
		errText, remaining, resetAt)
	if err != nil {
		return "", fmt.Errorf("recording fetch cycle: %w", err)
	}
	return log.ID, nil
}

// LastSuccessful returns the most recent successful cycle record.
func (db *DB) LastSuccessful(ctx context.Context) (FetchLog, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, fetched_at, next_due_at, status, duration_ms, api_calls, duplicates, new_items, error, rate_remaining, rate_reset_at
		FROM fetch_logs WHERE status = ?
		ORDER BY fetched_at DESC LIMIT 1`, string(CycleSuccess))
	return scanFetchLog(row)
}

// RecentCycles returns the newest audit records, all statuses included.
func (db *DB) RecentCycles(ctx context.Context, limit int) ([]FetchLog, error) {
	if limit <= 0 {
		limit = 20
	}
	return db.queryCycles(ctx, `
		SELECT id, fetched_at, next_due_at, status, duration_ms, api_calls, duplicates, new_items, error, rate_remaining, rate_reset_at
		FROM fetch_logs ORDER BY fetched_at DESC LIMIT ?`, limit)
}

// FailedCycles returns the newest cycles that did not complete cleanly.
func (db *DB) FailedCycles(ctx context.Context, limit int) ([]FetchLog, error) {
	if limit <= 0 {
		limit = 20
	}
	return db.queryCycles(ctx, `
		SELECT id, fetched_at, next_due_at, status, duration_ms, api_calls, duplicates, new_items, error, rate_remaining, rate_reset_at
		FROM fetch_logs WHERE status != ?
		ORDER BY fetched_at DESC LIMIT ?`, string(CycleSuccess), limit)
}

// Stats aggregates the article store and the audit log.
func (db *DB) Stats(ctx context.Context) (Statistics, error) {
	var stats Statistics

	count, err := db.ArticleCount(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalArticles = count

	var avgDurationMs float64
	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(SUM(api_calls), 0)
		FROM fetch_logs`).Scan(
		&stats.TotalCycles, &stats.SuccessCycles, &stats.FailedCycles,
		&avgDurationMs, &stats.TotalAPICalls)
	if err != nil {
		return stats, fmt.Errorf("aggregating fetch logs: %w", err)
	}
	stats.AvgDuration = time.Duration(avgDurationMs * float64(time.Millisecond))

	var lastFetched time.Time
	err = db.conn.QueryRowContext(ctx, `
		SELECT fetched_at FROM fetch_logs ORDER BY fetched_at DESC LIMIT 1`).Scan(&lastFetched)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return stats, fmt.Errorf("reading last fetch time: %w", err)
	default:
		stats.LastFetchedAt = &lastFetched
	}
	return stats, nil
}

func (db *DB) queryCycles(ctx context.Context, query string, args ...any) ([]FetchLog, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fetch logs: %w", err)
	}
	defer rows.Close()

	var logs []FetchLog
	for rows.Next() {
		log, err := scanFetchLogRow(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFetchLog(row *sql.Row) (FetchLog, error) {
	log, err := scanFetchLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FetchLog{}, ErrNoCycles
	}
	return log, err
}

func scanFetchLogRow(row rowScanner) (FetchLog, error) {
	var log FetchLog
	var status string
	var durationMs int64
	var errText sql.NullString
	var remaining sql.NullInt64
	var resetAt sql.NullTime
	err := row.Scan(&log.ID, &log.FetchedAt, &log.NextDueAt, &status, &durationMs,
		&log.APICalls, &log.Duplicates, &log.NewItems, &errText, &remaining, &resetAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FetchLog{}, err
		}
		return FetchLog{}, fmt.Errorf("scanning fetch log: %w", err)
	}
	log.Status = CycleStatus(status)
	log.Duration = time.Duration(durationMs) * time.Millisecond
	log.Error = errText.String
	if remaining.Valid {
		v := int(remaining.Int64)
		log.RateRemaining = &v
	}
	if resetAt.Valid {
		t := resetAt.Time
		log.RateResetAt = &t
	}
	return log, nil
}
