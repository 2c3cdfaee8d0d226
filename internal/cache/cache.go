// Package cache holds small TTL caches (in-memory and Redis-backed)
// sitting in front of report_cache lookups, so a client polling get_report every second
// doesn't round-trip to Postgres on every poll while a report is still
// generating.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/storemon/storemon/internal/reportcache"
)

type entry struct {
	row       reportcache.Row
	updatedAt time.Time
}

// ReportStatusCache caches reportcache.Row lookups by report id.
type ReportStatusCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]entry
	ttl     time.Duration
}

// New builds a ReportStatusCache. Entries older than ttl are treated as
// a miss. A ttl of zero disables caching outright (every Get misses).
func New(ttl time.Duration) *ReportStatusCache {
	return &ReportStatusCache{entries: make(map[uuid.UUID]entry), ttl: ttl}
}

// Get returns a cached row if present and not yet expired. A row cached
// while still generating is never trusted once it claims to be done:
// callers must always re-verify a "completed" result against the
// filesystem, since the cache can't observe the artifact being written.
func (c *ReportStatusCache) Get(id uuid.UUID) (reportcache.Row, bool) {
	if c.ttl <= 0 {
		return reportcache.Row{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || time.Since(e.updatedAt) > c.ttl {
		return reportcache.Row{}, false
	}
	return e.row, true
}

// Set stores a row's current state.
func (c *ReportStatusCache) Set(id uuid.UUID, row reportcache.Row) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{row: row, updatedAt: time.Now()}
}

// Invalidate drops a cached row, used once a row is deleted or finalized
// so the next lookup goes straight to the source of truth.
func (c *ReportStatusCache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// RunCleanup periodically evicts expired entries so the map doesn't grow
// unbounded across a long-running process serving many distinct report
// ids. It blocks until stop is closed.
func (c *ReportStatusCache) RunCleanup(interval time.Duration, stop <-chan struct{}) {
	if c.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *ReportStatusCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if time.Since(e.updatedAt) > c.ttl {
			delete(c.entries, id)
		}
	}
}

// RedisStatusCache is the same cache backed by Redis instead of process
// memory, so every replica behind a load balancer sees the same "still
// generating" state instead of each one polling Postgres independently.
// Marshal/unmarshal errors are treated as cache misses rather than
// surfaced to callers — losing the cache costs an extra database
// round-trip, not correctness.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis builds a RedisStatusCache using keys prefix:<report-id>.
func NewRedis(client *redis.Client, ttl time.Duration, prefix string) *RedisStatusCache {
	return &RedisStatusCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *RedisStatusCache) key(id uuid.UUID) string {
	return c.prefix + ":" + id.String()
}

// Get satisfies lifecycle.StatusCache. Redis calls need a context, which
// the interface doesn't carry; a short background-derived timeout keeps
// a slow or unreachable Redis from blocking a get_report request for
// long, at the cost of this becoming a best-effort lookup.
func (c *RedisStatusCache) Get(id uuid.UUID) (reportcache.Row, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		return reportcache.Row{}, false
	}
	var row reportcache.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return reportcache.Row{}, false
	}
	return row, true
}

// Set stores row with the cache's configured TTL.
func (c *RedisStatusCache) Set(id uuid.UUID, row reportcache.Row) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	data, err := json.Marshal(row)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(id), data, c.ttl).Err()
}

// Invalidate removes a cached row.
func (c *RedisStatusCache) Invalidate(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_ = c.client.Del(ctx, c.key(id)).Err()
}
