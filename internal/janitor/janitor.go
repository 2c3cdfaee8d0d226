// Package janitor reclaims report_cache rows whose worker crashed or was
// killed mid-generation, leaving generating=true with no live goroutine
// ever going to finish it. Nothing in the source does this; it's the
// recommended fix for the stale-row gap called out for the rewrite.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/storemon/storemon/internal/reportcache"
)

// CacheStore is the slice of reportcache.Store the sweep needs.
type CacheStore interface {
	StaleGenerating(ctx context.Context, before time.Time) ([]reportcache.Row, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Sweeper periodically reclaims stale in-progress report rows.
type Sweeper struct {
	cache    CacheStore
	cacheDir string
	ttl      time.Duration
	log      zerolog.Logger
}

// New builds a Sweeper. Rows still generating after ttl are reclaimed.
func New(cache CacheStore, cacheDir string, ttl time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{cache: cache, cacheDir: cacheDir, ttl: ttl, log: log}
}

// Run blocks, sweeping every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("janitor: sweep failed")
			}
		}
	}
}

// Sweep deletes every report_cache row that has been generating for
// longer than ttl, along with any partial artifact or leftover temp file
// it left behind.
func (s *Sweeper) Sweep(ctx context.Context) error {
	stale, err := s.cache.StaleGenerating(ctx, time.Now().UTC().Add(-s.ttl))
	if err != nil {
		return err
	}

	for _, row := range stale {
		s.reclaim(ctx, row)
	}
	return nil
}

func (s *Sweeper) reclaim(ctx context.Context, row reportcache.Row) {
	base := filepath.Join(s.cacheDir, row.UUID.String()+".csv")
	for _, path := range []string{base, base + ".tmp"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("janitor: failed to remove stale artifact")
		}
	}

	if err := s.cache.Delete(ctx, row.UUID); err != nil {
		s.log.Error().Err(err).Str("report_id", row.UUID.String()).Msg("janitor: failed to delete stale row")
		return
	}
	s.log.Info().
		Str("report_id", row.UUID.String()).
		Time("started", row.StartUTC).
		Msg("janitor: reclaimed stale report")
}
