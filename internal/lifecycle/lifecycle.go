// Package lifecycle is the report lifecycle manager: it admits one fleet
// report generation at a time and hands its result back out over HTTP,
// regardless of whether the caller that asks for it is the one that
// triggered it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/storemon/storemon/internal/reportcache"
)

// Generator runs the fleet report job for one report id, writing its
// artifact to cacheDir/<id>.csv and finalizing the report_cache row when
// done. *fleetreport.Job satisfies this.
type Generator interface {
	GenerateForAll(ctx context.Context, reportID uuid.UUID) error
}

// CacheStore is the slice of reportcache.Store the manager depends on.
type CacheStore interface {
	TriggerOrJoin(ctx context.Context) (reportcache.Row, bool, error)
	Get(ctx context.Context, id uuid.UUID) (reportcache.Row, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// StatusCache caches "still generating" lookups so a polling client
// doesn't round-trip to Postgres on every request. Both
// cache.ReportStatusCache (in-process) and cache.RedisStatusCache
// (shared across replicas) satisfy this.
type StatusCache interface {
	Get(id uuid.UUID) (reportcache.Row, bool)
	Set(id uuid.UUID, row reportcache.Row)
	Invalidate(id uuid.UUID)
}

// Manager serves trigger_report/get_report. Concurrent triggers are
// collapsed by the database transaction in CacheStore.TriggerOrJoin; a
// singleflight.Group then deduplicates the background generation per
// report id inside this one process.
type Manager struct {
	rows        CacheStore
	statusCache StatusCache
	generator   Generator
	cacheDir    string
	log         zerolog.Logger

	inflight singleflight.Group
}

// New builds a Manager. cacheDir must match the directory the Generator
// writes artifacts into. Status polling is not cached.
func New(store CacheStore, generator Generator, cacheDir string, log zerolog.Logger) *Manager {
	return &Manager{rows: store, generator: generator, cacheDir: cacheDir, log: log}
}

// WithStatusCache attaches a cache of "still generating" lookups, so a
// client polling get_report doesn't hit Postgres on every request while
// a report is in flight.
func (m *Manager) WithStatusCache(statusCache StatusCache) *Manager {
	m.statusCache = statusCache
	return m
}

// RegisterRoutes wires the manager's handlers onto r.
func (m *Manager) RegisterRoutes(r gin.IRouter) {
	r.GET("/trigger_report", m.TriggerReport)
	r.GET("/get_report", m.GetReport)
}

// TriggerReport admits a new report generation, or returns the id of one
// already in flight. Either way the background generation work (if any)
// runs after the handler returns a response.
func (m *Manager) TriggerReport(c *gin.Context) {
	ctx := c.Request.Context()

	row, isNew, err := m.rows.TriggerOrJoin(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("trigger_report: admission failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger report"})
		return
	}

	if isNew {
		m.startGeneration(row.UUID)
	}

	c.JSON(http.StatusOK, gin.H{"report_id": row.UUID})
}

// startGeneration runs the generator in the background, detached from
// the triggering request's context, deduplicated per report id so a
// burst of triggers that all lost the database race still only spawns
// one goroutine actually doing the work.
func (m *Manager) startGeneration(reportID uuid.UUID) {
	m.inflight.DoChan(reportID.String(), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Interface("panic", r).Str("report_id", reportID.String()).Msg("report generation panicked")
			}
		}()

		if err := m.generator.GenerateForAll(ctx, reportID); err != nil {
			m.log.Error().Err(err).Str("report_id", reportID.String()).Msg("report generation failed")
			return nil, err
		}
		return nil, nil
	})
}

// GetReport reports a triggered report's status, or streams its artifact
// once ready.
func (m *Manager) GetReport(c *gin.Context) {
	ctx := c.Request.Context()

	reportID, err := uuid.Parse(c.Query("report_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "report_id must be a valid uuid"})
		return
	}

	row, cached := m.cachedRow(reportID)
	if !cached {
		var err error
		row, err = m.rows.Get(ctx, reportID)
		if errors.Is(err, reportcache.ErrNoRow) {
			c.JSON(http.StatusOK, gin.H{"status": "Not Found"})
			return
		}
		if err != nil {
			m.log.Error().Err(err).Msg("get_report: lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up report"})
			return
		}
	}

	if row.Generating {
		// A generating row's artifact is written to a ".tmp" path and only
		// renamed into place once generation finishes, so the final path
		// is expected to be absent for the entire run, however long it
		// takes. Report the in-flight status without ever touching the
		// filesystem here — doing so would race the rename and delete a
		// perfectly healthy row out from under a client still waiting on
		// it. Only "still generating" is worth caching: it's the state a
		// polling client re-requests many times in a row, and it's safe
		// to serve slightly stale (the real transition away from it is
		// always file-existence-gated below).
		if !cached {
			m.cacheRow(reportID, row)
		}
		c.JSON(http.StatusOK, gin.H{"status": "generating", "report_id": row.UUID})
		return
	}

	artifactPath := filepath.Join(m.cacheDir, reportID.String()+".csv")
	if _, statErr := os.Stat(artifactPath); statErr != nil {
		// The row claims this report is done but its file doesn't exist:
		// the artifact was lost (disk cleared, process crashed mid-write).
		// Drop the stale row rather than leave callers polling forever.
		if delErr := m.rows.Delete(ctx, reportID); delErr != nil {
			m.log.Error().Err(delErr).Str("report_id", reportID.String()).Msg("get_report: failed to drop stale row")
		}
		m.invalidateCached(reportID)
		c.JSON(http.StatusOK, gin.H{"status": "Not Found"})
		return
	}

	m.invalidateCached(reportID)
	c.Header("status", "Completed")
	c.FileAttachment(artifactPath, fmt.Sprintf("store_monitoring_%s.csv", reportID))
}

func (m *Manager) cachedRow(id uuid.UUID) (reportcache.Row, bool) {
	if m.statusCache == nil {
		return reportcache.Row{}, false
	}
	return m.statusCache.Get(id)
}

func (m *Manager) cacheRow(id uuid.UUID, row reportcache.Row) {
	if m.statusCache != nil {
		m.statusCache.Set(id, row)
	}
}

func (m *Manager) invalidateCached(id uuid.UUID) {
	if m.statusCache != nil {
		m.statusCache.Invalidate(id)
	}
}
