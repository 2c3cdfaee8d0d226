// Package ingest is the periodic CSV refresh pipeline: download the
// source-of-truth CSVs, clean them, and bulk-load them into the
// relational store. It's the only component allowed to write to
// store_status, menu_hours, and time_zone.
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Downloader fetches the source CSVs into dir. Where they come from (an
// object store, a vendor API, a fixture drop) is outside this package's
// concern; callers supply whichever Downloader fits their deployment.
// overwrite mirrors the source's DEBUG-gated behavior: in production the
// downloader always refreshes, in debug mode it only fills in files that
// are missing so a developer's local fixtures survive repeated ticks.
type Downloader interface {
	Download(ctx context.Context, dir string, overwrite bool) error
}

// SettingsStore is the slice of the settings table ingest needs.
type SettingsStore interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
}

// Loader bulk-loads one cleaned CSV into its table, returning the number
// of rows copied into the staging table. PoolLoader is the pgx-backed
// implementation used in production; tests substitute a fake.
type Loader interface {
	LoadStoreStatus(ctx context.Context, path string) (int64, error)
	LoadMenuHours(ctx context.Context, path string) (int64, error)
	LoadTimeZones(ctx context.Context, path string) (int64, error)
}

// PoolLoader is the production Loader, backed by a pgx pool.
type PoolLoader struct {
	Pool *pgxpool.Pool
}

func (l PoolLoader) LoadStoreStatus(ctx context.Context, path string) (int64, error) {
	return loadStoreStatus(ctx, l.Pool, path)
}

func (l PoolLoader) LoadMenuHours(ctx context.Context, path string) (int64, error) {
	return loadMenuHours(ctx, l.Pool, path)
}

func (l PoolLoader) LoadTimeZones(ctx context.Context, path string) (int64, error) {
	return loadTimeZones(ctx, l.Pool, path)
}

var expectedFiles = []string{"store_status.csv", "menu_hours.csv", "time_zone_info.csv"}

// Scheduler drives the hourly refresh tick described by the ingest
// component: download, clean, and on any change reload the tables.
type Scheduler struct {
	downloader Downloader
	settings   SettingsStore
	loader     Loader
	csvDir     string
	debug      bool
	log        zerolog.Logger
}

// New builds a Scheduler. csvDir is where both raw and cleaned CSVs live.
func New(downloader Downloader, settings SettingsStore, loader Loader, csvDir string, debug bool, log zerolog.Logger) *Scheduler {
	return &Scheduler{downloader: downloader, settings: settings, loader: loader, csvDir: csvDir, debug: debug, log: log}
}

// Run blocks, firing Tick every interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		s.log.Error().Err(err).Msg("ingest: initial tick failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Error().Err(err).Msg("ingest: tick failed")
			}
		}
	}
}

// Tick runs one refresh cycle: download (overwriting unless in debug
// mode), verify every expected file landed, and if so flip
// csv_data_changed and reload. A download that leaves a file missing
// aborts the tick; the next tick retries from scratch.
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := s.downloader.Download(ctx, s.csvDir, !s.debug); err != nil {
		return fmt.Errorf("downloading source csvs: %w", err)
	}

	for _, name := range expectedFiles {
		if _, err := os.Stat(filepath.Join(s.csvDir, name)); err != nil {
			return fmt.Errorf("ingest: expected csv missing after download: %s", name)
		}
	}

	if err := s.settings.Set(ctx, "csv_data_changed", "true"); err != nil {
		return fmt.Errorf("flagging csv_data_changed: %w", err)
	}

	return s.PopulateIfChanged(ctx)
}

// PopulateIfChanged bulk-loads every table only when csv_data_changed is
// "true", then resets the flag. Calling it when nothing changed is a
// cheap no-op, so it is safe to call unconditionally; Tick calls it after
// every successful download.
func (s *Scheduler) PopulateIfChanged(ctx context.Context) error {
	changed, err := s.settings.Get(ctx, "csv_data_changed")
	if err != nil {
		return fmt.Errorf("reading csv_data_changed: %w", err)
	}
	if changed != "true" {
		return nil
	}

	if err := s.cleanAndLoad(ctx); err != nil {
		return err
	}

	if err := s.settings.Set(ctx, "csv_data_changed", "false"); err != nil {
		return fmt.Errorf("resetting csv_data_changed: %w", err)
	}
	return nil
}

func (s *Scheduler) cleanAndLoad(ctx context.Context) error {
	rawStatus := filepath.Join(s.csvDir, "store_status.csv")
	cleanStatus := filepath.Join(s.csvDir, "store_status_clean.csv")
	if err := CleanStoreStatus(rawStatus, cleanStatus); err != nil {
		return fmt.Errorf("cleaning store_status.csv: %w", err)
	}

	n, err := s.loader.LoadStoreStatus(ctx, cleanStatus)
	if err != nil {
		return fmt.Errorf("loading store_status: %w", err)
	}
	s.log.Info().Int64("rows", n).Msg("populated store_status")

	mn, err := s.loader.LoadMenuHours(ctx, filepath.Join(s.csvDir, "menu_hours.csv"))
	if err != nil {
		return fmt.Errorf("loading menu_hours: %w", err)
	}
	s.log.Info().Int64("rows", mn).Msg("populated menu_hours")

	tn, err := s.loader.LoadTimeZones(ctx, filepath.Join(s.csvDir, "time_zone_info.csv"))
	if err != nil {
		return fmt.Errorf("loading time_zone: %w", err)
	}
	s.log.Info().Int64("rows", tn).Msg("populated time_zone")

	return nil
}

// CleanStoreStatus rewrites the raw store_status.csv into a form whose
// status column is a plain "0"/"1" instead of the raw "active"/
// "inactive" strings, leaving every other column untouched.
//
// The replace order matters: "inactive" contains "active" as a
// substring, so replacing "active" first would corrupt "inactive" rows
// into "in1". If the clean file already exists this is a no-op — the
// source does the same, on the theory that the clean file is
// expensive to regenerate and the raw file never changes shape once
// dropped. That means a corrupted clean file requires deleting it by
// hand before the next tick will regenerate it.
func CleanStoreStatus(srcPath, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		return nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dstPath, err)
	}
	defer dst.Close()

	scanner := bufio.NewScanner(src)
	w := bufio.NewWriter(dst)
	for scanner.Scan() {
		line := scanner.Text()
		cleaned := replaceStatusTokens(line)
		if _, err := w.WriteString(cleaned + "\n"); err != nil {
			return fmt.Errorf("writing cleaned line: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", srcPath, err)
	}
	return w.Flush()
}

func replaceStatusTokens(line string) string {
	if len(line) >= len("store_id") && line[:len("store_id")] == "store_id" {
		return line
	}
	line = replaceAll(line, "inactive", "0")
	line = replaceAll(line, "active", "1")
	return line
}

func replaceAll(s, old, new string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && s[i:i+len(old)] == old {
			out = append(out, new...)
			i += len(old)
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

func loadStoreStatus(ctx context.Context, pool *pgxpool.Pool, path string) (int64, error) {
	return bulkLoad(ctx, pool, path, "store_status", []string{"store_id", "status", "timestamp_utc"}, func(rec []string) ([]any, error) {
		storeID, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing store_id %q: %w", rec[0], err)
		}
		isOpen, err := strconv.ParseBool(rec[1])
		if err != nil {
			return nil, fmt.Errorf("parsing status %q: %w", rec[1], err)
		}
		ts, err := time.Parse(time.RFC3339, rec[2])
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp %q: %w", rec[2], err)
		}
		return []any{storeID, isOpen, ts}, nil
	})
}

func loadMenuHours(ctx context.Context, pool *pgxpool.Pool, path string) (int64, error) {
	return bulkLoad(ctx, pool, path, "menu_hours", []string{"store_id", "day_of_week", "start_time_local", "end_time_local"}, func(rec []string) ([]any, error) {
		storeID, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing store_id %q: %w", rec[0], err)
		}
		dow, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("parsing day_of_week %q: %w", rec[1], err)
		}
		return []any{storeID, dow, rec[2], rec[3]}, nil
	})
}

func loadTimeZones(ctx context.Context, pool *pgxpool.Pool, path string) (int64, error) {
	return bulkLoad(ctx, pool, path, "time_zone", []string{"store_id", "timezone_str"}, func(rec []string) ([]any, error) {
		storeID, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing store_id %q: %w", rec[0], err)
		}
		return []any{storeID, rec[1]}, nil
	})
}

// bulkLoad mirrors the source's "load into a temp table, then INSERT ...
// ON CONFLICT DO NOTHING into the real one" idempotent reload, using
// pgx's native CopyFrom protocol instead of shelling out to COPY FROM
// STDIN. The temp table is dropped automatically when the transaction
// commits.
func bulkLoad(ctx context.Context, pool *pgxpool.Pool, path, table string, columns []string, parse func([]string) ([]any, error)) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("reading header: %w", err)
	}
	_ = header

	var rows [][]any
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading row: %w", err)
		}
		row, err := parse(rec)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning bulk load transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	tmpTable := "tmp_" + table
	createTmp := fmt.Sprintf(`CREATE TEMP TABLE %s (LIKE %s) ON COMMIT DROP`, pgx.Identifier{tmpTable}.Sanitize(), pgx.Identifier{table}.Sanitize())
	if _, err := tx.Exec(ctx, createTmp); err != nil {
		return 0, fmt.Errorf("creating temp table: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{tmpTable}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copying into temp table: %w", err)
	}

	insertSQL := fmt.Sprintf(
		`INSERT INTO %s SELECT * FROM %s ON CONFLICT DO NOTHING`,
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{tmpTable}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, insertSQL); err != nil {
		return 0, fmt.Errorf("merging temp table into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing bulk load: %w", err)
	}
	return n, nil
}
