// Package reportbuilder composes the store data access layer with the
// interpolation engine to produce one store's rolling-window report.
package reportbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/storemon/storemon/internal/interpolate"
	"github.com/storemon/storemon/internal/store"
)

// StoreReader is the slice of store.Store this package depends on. Kept
// as an interface so tests can supply an in-memory fake instead of a
// live Postgres connection.
type StoreReader interface {
	StatusLog(ctx context.Context, storeID int64, tz string) ([]store.StatusRow, error)
	BusinessHours(ctx context.Context, storeID int64) (map[time.Weekday]store.DayHours, error)
	Timezone(ctx context.Context, storeID int64) (string, error)
}

// Builder produces per-store reports.
type Builder struct {
	reader StoreReader
}

// New wraps a StoreReader (typically *store.Store).
func New(reader StoreReader) *Builder {
	return &Builder{reader: reader}
}

// ForStore fetches one store's timezone, business hours, and full status
// log (once), then runs the interpolation engine three times — last hour,
// last day, last week — all anchored at anchor.
func (b *Builder) ForStore(ctx context.Context, storeID int64, anchor time.Time) (interpolate.StoreReport, error) {
	log, hours, err := History(ctx, b.reader, storeID)
	if err != nil {
		return interpolate.StoreReport{}, err
	}
	return interpolate.RollingReport(storeID, log, hours, anchor), nil
}

// History fetches one store's full status log and business hours and
// converts them to the interpolation engine's vocabulary. It's exported
// so other callers that need the raw log across an arbitrary window (the
// total report, notably, which doesn't use RollingReport's fixed hour/
// day/week windows) don't have to re-implement this wiring.
func History(ctx context.Context, reader StoreReader, storeID int64) ([]interpolate.Observation, interpolate.WeeklyHours, error) {
	tz, err := reader.Timezone(ctx, storeID)
	if err != nil {
		return nil, nil, fmt.Errorf("store %d: %w", storeID, err)
	}

	hoursByDay, err := reader.BusinessHours(ctx, storeID)
	if err != nil {
		return nil, nil, fmt.Errorf("store %d: %w", storeID, err)
	}

	rows, err := reader.StatusLog(ctx, storeID, tz)
	if err != nil {
		return nil, nil, fmt.Errorf("store %d: %w", storeID, err)
	}

	log := make([]interpolate.Observation, len(rows))
	for i, r := range rows {
		log[i] = interpolate.Observation{
			StoreID:   r.StoreID,
			IsOpen:    r.IsOpen,
			TimeUTC:   r.TimeUTC,
			TimeLocal: r.TimeLocal,
		}
	}

	hours := make(interpolate.WeeklyHours, len(hoursByDay))
	for dow, h := range hoursByDay {
		hours[dow] = interpolate.Hours{Open: h.Open, Close: h.Close}
	}

	return log, hours, nil
}
