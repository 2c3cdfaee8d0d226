// Package store is the store monitoring data access layer: typed,
// parameter-bound queries over the normalized Postgres tables. Every
// query here is read-only; nothing in this package interpolates a store
// id or timezone string into SQL text.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTimezone is substituted for any store with no row in time_zone.
const DefaultTimezone = "America/Chicago"

// StatusRow is one observation of a store's status, with its UTC instant
// and that instant projected into the store's local timezone.
type StatusRow struct {
	StoreID   int64
	IsOpen    bool
	TimeUTC   time.Time
	TimeLocal time.Time
}

// DayHours is the local open/close time-of-day for one day of week,
// expressed as an offset from midnight so callers don't need a
// civil-time type.
type DayHours struct {
	Open  time.Duration
	Close time.Duration
}

// Store wraps a pgx pool with the queries the report engine needs.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListStores returns every distinct store id that has at least one
// recorded observation.
func (s *Store) ListStores(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT store_id FROM store_status`)
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning store id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StatusLog returns every observation for store_id, ordered ascending by
// timestamp, with each row's UTC instant also projected into tz.
func (s *Store) StatusLog(ctx context.Context, storeID int64, tz string) ([]StatusRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT store_id, status, timestamp_utc, timestamp_utc AT TIME ZONE $2
		FROM store_status
		WHERE store_id = $1
		ORDER BY timestamp_utc
	`, storeID, tz)
	if err != nil {
		return nil, fmt.Errorf("fetching status log for store %d: %w", storeID, err)
	}
	defer rows.Close()

	var log []StatusRow
	for rows.Next() {
		var r StatusRow
		if err := rows.Scan(&r.StoreID, &r.IsOpen, &r.TimeUTC, &r.TimeLocal); err != nil {
			return nil, fmt.Errorf("scanning status row: %w", err)
		}
		log = append(log, r)
	}
	return log, rows.Err()
}

// BusinessHours returns the declared hours per day-of-week (0=Sunday per
// time.Weekday) for storeID. Days with no row are left absent; callers
// fill them with the all-day default, per spec.
func (s *Store) BusinessHours(ctx context.Context, storeID int64) (map[time.Weekday]DayHours, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day_of_week, start_time_local, end_time_local
		FROM menu_hours
		WHERE store_id = $1
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("fetching business hours for store %d: %w", storeID, err)
	}
	defer rows.Close()

	hours := make(map[time.Weekday]DayHours)
	for rows.Next() {
		var dow int
		var open, close pgtype.Time
		if err := rows.Scan(&dow, &open, &close); err != nil {
			return nil, fmt.Errorf("scanning business hours row: %w", err)
		}
		hours[time.Weekday(dow)] = DayHours{
			Open:  time.Duration(open.Microseconds) * time.Microsecond,
			Close: time.Duration(close.Microseconds) * time.Microsecond,
		}
	}
	return hours, rows.Err()
}

// Timezone returns the IANA timezone name for storeID, falling back to
// DefaultTimezone when the store has no row in time_zone.
func (s *Store) Timezone(ctx context.Context, storeID int64) (string, error) {
	var tz string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT timezone_str FROM time_zone WHERE store_id = $1),
			$2
		)
	`, storeID, DefaultTimezone).Scan(&tz)
	if err != nil {
		return "", fmt.Errorf("fetching timezone for store %d: %w", storeID, err)
	}
	return tz, nil
}

// MaxObservationTimestamp returns the latest recorded observation across
// every store; this is the anchor used for all rolling report windows.
func (s *Store) MaxObservationTimestamp(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(timestamp_utc) FROM store_status`).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching max observation timestamp: %w", err)
	}
	return t, nil
}

// MinObservationTimestamp returns the earliest recorded observation
// across every store; used as the total report's window start.
func (s *Store) MinObservationTimestamp(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT MIN(timestamp_utc) FROM store_status`).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching min observation timestamp: %w", err)
	}
	return t, nil
}
