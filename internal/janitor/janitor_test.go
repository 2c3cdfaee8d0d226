package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/storemon/storemon/internal/reportcache"
)

type fakeCache struct {
	stale   []reportcache.Row
	deleted []uuid.UUID
}

func (f *fakeCache) StaleGenerating(context.Context, time.Time) ([]reportcache.Row, error) {
	return f.stale, nil
}

func (f *fakeCache) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestSweep_RemovesStaleRowAndPartialArtifact(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String()+".csv.tmp"), []byte("partial"), 0o644))

	cache := &fakeCache{stale: []reportcache.Row{{UUID: id, Generating: true, StartUTC: time.Now().Add(-time.Hour)}}}
	s := New(cache, dir, 15*time.Minute, zerolog.Nop())

	require.NoError(t, s.Sweep(context.Background()))
	require.Equal(t, []uuid.UUID{id}, cache.deleted)

	_, err := os.Stat(filepath.Join(dir, id.String()+".csv.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestSweep_NoStaleRowsIsANoOp(t *testing.T) {
	dir := t.TempDir()
	cache := &fakeCache{}
	s := New(cache, dir, 15*time.Minute, zerolog.Nop())

	require.NoError(t, s.Sweep(context.Background()))
	require.Empty(t, cache.deleted)
}

func TestSweep_MissingArtifactFilesAreNotAnError(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	cache := &fakeCache{stale: []reportcache.Row{{UUID: id, Generating: true}}}
	s := New(cache, dir, 15*time.Minute, zerolog.Nop())

	require.NoError(t, s.Sweep(context.Background()))
	require.Equal(t, []uuid.UUID{id}, cache.deleted)
}
