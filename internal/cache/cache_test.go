package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storemon/storemon/internal/reportcache"
)

func TestReportStatusCache_SetThenGetWithinTTL(t *testing.T) {
	c := New(time.Minute)
	id := uuid.New()
	row := reportcache.Row{UUID: id, Generating: true}

	c.Set(id, row)

	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, row, got)
}

func TestReportStatusCache_GetMissesOnceExpired(t *testing.T) {
	c := New(time.Millisecond)
	id := uuid.New()
	c.Set(id, reportcache.Row{UUID: id, Generating: true})

	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(id)
	assert.False(t, ok)
}

func TestReportStatusCache_ZeroTTLDisablesCaching(t *testing.T) {
	c := New(0)
	id := uuid.New()
	c.Set(id, reportcache.Row{UUID: id, Generating: true})

	_, ok := c.Get(id)
	assert.False(t, ok)
}

func TestReportStatusCache_InvalidateDropsEntry(t *testing.T) {
	c := New(time.Minute)
	id := uuid.New()
	c.Set(id, reportcache.Row{UUID: id, Generating: true})

	c.Invalidate(id)

	_, ok := c.Get(id)
	assert.False(t, ok)
}

func TestReportStatusCache_EvictExpiredRemovesOnlyStaleEntries(t *testing.T) {
	c := New(5 * time.Millisecond)
	stale, fresh := uuid.New(), uuid.New()
	c.Set(stale, reportcache.Row{UUID: stale})
	time.Sleep(10 * time.Millisecond)
	c.Set(fresh, reportcache.Row{UUID: fresh})

	c.evictExpired()

	c.mu.RLock()
	_, staleStillPresent := c.entries[stale]
	_, freshStillPresent := c.entries[fresh]
	c.mu.RUnlock()

	assert.False(t, staleStillPresent)
	assert.True(t, freshStillPresent)
}

func TestRedisStatusCache_KeyIsPrefixedWithReportID(t *testing.T) {
	c := NewRedis(redis.NewClient(&redis.Options{}), time.Minute, "report_status")
	id := uuid.New()

	assert.Equal(t, "report_status:"+id.String(), c.key(id))
}

// An unreachable Redis must degrade to a cache miss rather than block or
// panic: GetReport still has Postgres to fall back on.
func TestRedisStatusCache_UnreachableRedisIsATransparentMiss(t *testing.T) {
	c := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), time.Minute, "report_status")
	id := uuid.New()

	_, ok := c.Get(id)
	assert.False(t, ok)

	c.Set(id, reportcache.Row{UUID: id})
	c.Invalidate(id)
}
