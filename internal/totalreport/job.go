// Package totalreport produces the dashboard's single-shot total report:
// one row per store, uptime/downtime in seconds, covering the full
// observable history rather than a rolling window.
package totalreport

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/storemon/storemon/internal/interpolate"
	"github.com/storemon/storemon/internal/reportbuilder"
)

const artifactName = "total_report.csv"

var csvHeader = []string{"store_id", "uptime", "downtime"}

// HistoryReader supplies everything the total report needs: the set of
// known stores, the dataset's observed time bounds, and (via the
// embedded reportbuilder.StoreReader) each store's raw status log and
// business hours.
type HistoryReader interface {
	reportbuilder.StoreReader
	ListStores(ctx context.Context) ([]int64, error)
	MinObservationTimestamp(ctx context.Context) (time.Time, error)
	MaxObservationTimestamp(ctx context.Context) (time.Time, error)
}

// Job generates total_report.csv. GENERATING_REPORTS in the source is a
// bare process-global bool; here it's a mutex-guarded flag scoped to the
// Job so multiple Jobs (e.g. in tests) don't share state by accident.
type Job struct {
	reader   HistoryReader
	cacheDir string
	log      zerolog.Logger

	mu         sync.Mutex
	generating bool
}

// New builds a Job writing its artifact under cacheDir.
func New(reader HistoryReader, cacheDir string, log zerolog.Logger) *Job {
	return &Job{reader: reader, cacheDir: cacheDir, log: log}
}

// ArtifactPath returns where the artifact will be (or is) written.
func (j *Job) ArtifactPath() string {
	return filepath.Join(j.cacheDir, artifactName)
}

// Exists reports whether the artifact has already been generated at
// least once.
func (j *Job) Exists() bool {
	_, err := os.Stat(j.ArtifactPath())
	return err == nil
}

// TryGenerate starts a rebuild unless one is already in flight, in which
// case it returns immediately without starting a second one — mirroring
// the source's GENERATING_REPORTS guard. The rebuild runs detached from
// the caller's context: an HTTP handler that triggers it must not have
// its request's cancellation tear down a rebuild other callers are
// waiting on.
func (j *Job) TryGenerate() (started bool) {
	j.mu.Lock()
	if j.generating {
		j.mu.Unlock()
		return false
	}
	j.generating = true
	j.mu.Unlock()

	go func() {
		defer func() {
			j.mu.Lock()
			j.generating = false
			j.mu.Unlock()
		}()
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := j.generate(runCtx); err != nil {
			j.log.Error().Err(err).Msg("total report generation failed")
		}
	}()
	return true
}

func (j *Job) generate(ctx context.Context) error {
	minTS, err := j.reader.MinObservationTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("fetching min observation timestamp: %w", err)
	}
	maxTS, err := j.reader.MaxObservationTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("fetching max observation timestamp: %w", err)
	}

	stores, err := j.reader.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("listing stores: %w", err)
	}

	path := j.ArtifactPath()
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating total report artifact: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing total report header: %w", err)
	}

	for _, storeID := range stores {
		log, hours, err := reportbuilder.History(ctx, j.reader, storeID)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("store %d: %w", storeID, err)
		}

		uptime, downtime := interpolate.Window(log, hours, minTS, maxTS)
		row := []string{
			fmt.Sprintf("%d", storeID),
			secondsDecimal(uptime).String(),
			secondsDecimal(downtime).String(),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("writing total report row for store %d: %w", storeID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flushing total report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing total report artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("publishing total report artifact: %w", err)
	}

	j.log.Info().Int("stores", len(stores)).Msg("finished generating total report")
	return nil
}

// secondsDecimal converts a duration to an exact decimal number of
// seconds. decimal.Decimal is used instead of float64 so that summing or
// displaying these values downstream doesn't accumulate binary-float
// rounding error across a week of sub-second observation gaps.
func secondsDecimal(d time.Duration) decimal.Decimal {
	return decimal.New(d.Nanoseconds(), -9)
}
