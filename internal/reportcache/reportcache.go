// Package reportcache persists the report_cache table: one row per
// report generation, tracking whether it's still running and when it
// started/finished. The (row, file) pair it guards must stay consistent
// with the CSV artifacts on disk: lifecycle.Manager.GetReport deletes a
// finished row whose file is missing, and the janitor reclaims rows stuck
// generating.
package reportcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoRow is returned when a lookup finds no matching report_cache row.
var ErrNoRow = errors.New("reportcache: no such row")

// Row mirrors one report_cache record.
type Row struct {
	UUID       uuid.UUID
	Generating bool
	StartUTC   time.Time
	EndUTC     *time.Time
}

// Store wraps a pgx pool with the report_cache operations the lifecycle
// manager, fleet report job, and janitor all need.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// TriggerOrJoin implements the single-flight admission rule: inside one
// transaction, it looks for any row with generating=true and returns it
// if found; otherwise it inserts a fresh row with a new uuid and returns
// that. A transaction-scoped advisory lock taken first serializes callers,
// which is what prevents two concurrent callers from both inserting a
// fresh row (FOR UPDATE alone locks nothing when no row matches).
func (s *Store) TriggerOrJoin(ctx context.Context) (row Row, isNew bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Row{}, false, fmt.Errorf("beginning trigger transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	// Released automatically at commit or rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('report_cache_trigger'))`); err != nil {
		return Row{}, false, fmt.Errorf("locking trigger admission: %w", err)
	}

	var existing Row
	err = tx.QueryRow(ctx, `
		SELECT uuid, generating, start_timestamp_utc, end_timestamp_utc
		FROM report_cache
		WHERE generating = true
		FOR UPDATE
		LIMIT 1
	`).Scan(&existing.UUID, &existing.Generating, &existing.StartUTC, &existing.EndUTC)

	switch {
	case err == nil:
		return existing, false, tx.Commit(ctx)
	case errors.Is(err, pgx.ErrNoRows):
		row = Row{
			UUID:       uuid.New(),
			Generating: true,
			StartUTC:   time.Now().UTC(),
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO report_cache (uuid, generating, start_timestamp_utc)
			VALUES ($1, $2, $3)
		`, row.UUID, row.Generating, row.StartUTC)
		if err != nil {
			return Row{}, false, fmt.Errorf("inserting report_cache row: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return Row{}, false, fmt.Errorf("committing trigger transaction: %w", err)
		}
		return row, true, nil
	default:
		return Row{}, false, fmt.Errorf("checking for in-flight report: %w", err)
	}
}

// Get fetches one row by uuid. Returns ErrNoRow if it doesn't exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	var row Row
	err := s.pool.QueryRow(ctx, `
		SELECT uuid, generating, start_timestamp_utc, end_timestamp_utc
		FROM report_cache
		WHERE uuid = $1
	`, id).Scan(&row.UUID, &row.Generating, &row.StartUTC, &row.EndUTC)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrNoRow
	}
	if err != nil {
		return Row{}, fmt.Errorf("fetching report_cache row %s: %w", id, err)
	}
	return row, nil
}

// Delete removes a row, used when its backing file has gone missing.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM report_cache WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting report_cache row %s: %w", id, err)
	}
	return nil
}

// Finalize marks a report as complete, recording its end timestamp.
func (s *Store) Finalize(ctx context.Context, id uuid.UUID, endUTC time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE report_cache
		SET generating = false, end_timestamp_utc = $2
		WHERE uuid = $1
	`, id, endUTC)
	if err != nil {
		return fmt.Errorf("finalizing report_cache row %s: %w", id, err)
	}
	return nil
}

// StaleGenerating returns every row still marked generating=true whose
// start_timestamp_utc is older than before — candidates for the janitor.
func (s *Store) StaleGenerating(ctx context.Context, before time.Time) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uuid, generating, start_timestamp_utc, end_timestamp_utc
		FROM report_cache
		WHERE generating = true AND start_timestamp_utc < $1
	`, before)
	if err != nil {
		return nil, fmt.Errorf("listing stale report_cache rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.UUID, &r.Generating, &r.StartUTC, &r.EndUTC); err != nil {
			return nil, fmt.Errorf("scanning stale report_cache row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
