// Package fleetreport drives the per-store report builder over every
// known store and streams the results to a CSV artifact on disk.
package fleetreport

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/storemon/storemon/internal/interpolate"
)

// csvHeader is the fixed column order from the artifact format.
var csvHeader = []string{
	"store_id",
	"uptime_last_hour",
	"uptime_last_day",
	"uptime_last_week",
	"downtime_last_hour",
	"downtime_last_day",
	"downtime_last_week",
}

// StoreLister lists every store with at least one observation and knows
// the dataset's current anchor instant.
type StoreLister interface {
	ListStores(ctx context.Context) ([]int64, error)
	MaxObservationTimestamp(ctx context.Context) (time.Time, error)
}

// ReportBuilder produces one store's rolling report.
type ReportBuilder interface {
	ForStore(ctx context.Context, storeID int64, anchor time.Time) (interpolate.StoreReport, error)
}

// CacheFinalizer marks a report_cache row complete once the artifact is
// fully written.
type CacheFinalizer interface {
	Finalize(ctx context.Context, id uuid.UUID, endUTC time.Time) error
}

// Job generates the fleet-wide report artifact for one report id.
type Job struct {
	lister   StoreLister
	builder  ReportBuilder
	cache    CacheFinalizer
	cacheDir string
	log      zerolog.Logger
}

// New builds a Job writing artifacts under cacheDir.
func New(lister StoreLister, builder ReportBuilder, cache CacheFinalizer, cacheDir string, log zerolog.Logger) *Job {
	return &Job{lister: lister, builder: builder, cache: cache, cacheDir: cacheDir, log: log}
}

func (j *Job) artifactPath(reportID uuid.UUID) string {
	return filepath.Join(j.cacheDir, reportID.String()+".csv")
}

// GenerateForAll runs the fleet report for reportID. It is idempotent:
// if the artifact already exists, it returns immediately (a retry of an
// already-completed job is a no-op), matching the source's early-return
// on an existing file. A job still in progress has only its ".tmp" file,
// so this check does not detect it.
//
// The artifact is written to a temporary path first and renamed into
// place atomically on success, so a concurrent get_report's existence
// probe never observes a half-written file.
func (j *Job) GenerateForAll(ctx context.Context, reportID uuid.UUID) error {
	finalPath := j.artifactPath(reportID)
	if _, err := os.Stat(finalPath); err == nil {
		j.log.Debug().Str("report_id", reportID.String()).Msg("artifact already exists, skipping generation")
		return nil
	}

	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating report artifact: %w", err)
	}

	if err := j.writeArtifact(ctx, f, reportID); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing report artifact: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("publishing report artifact: %w", err)
	}

	if err := j.cache.Finalize(ctx, reportID, time.Now().UTC()); err != nil {
		return fmt.Errorf("finalizing report_cache row: %w", err)
	}

	j.log.Info().Str("report_id", reportID.String()).Msg("finished generating fleet report")
	return nil
}

func (j *Job) writeArtifact(ctx context.Context, f *os.File, reportID uuid.UUID) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("writing report header: %w", err)
	}

	anchor, err := j.lister.MaxObservationTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("fetching anchor timestamp: %w", err)
	}

	stores, err := j.lister.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("listing stores: %w", err)
	}

	j.log.Info().Int("stores", len(stores)).Str("report_id", reportID.String()).Msg("generating fleet report")

	for _, storeID := range stores {
		report, err := j.builder.ForStore(ctx, storeID, anchor)
		if err != nil {
			return fmt.Errorf("building report for store %d: %w", storeID, err)
		}
		row := []string{
			strconv.FormatInt(storeID, 10),
			strconv.FormatInt(report.UptimeLastHourMin, 10),
			strconv.FormatInt(report.UptimeLastDayHr, 10),
			strconv.FormatInt(report.UptimeLastWeekHr, 10),
			strconv.FormatInt(report.DowntimeLastHourMin, 10),
			strconv.FormatInt(report.DowntimeLastDayHr, 10),
			strconv.FormatInt(report.DowntimeLastWeekHr, 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing report row for store %d: %w", storeID, err)
		}
	}

	w.Flush()
	return w.Error()
}
