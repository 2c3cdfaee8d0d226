package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/storemon/storemon/internal/cache"
	"github.com/storemon/storemon/internal/reportcache"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCache struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]reportcache.Row
	current *uuid.UUID
}

func newFakeCache() *fakeCache {
	return &fakeCache{rows: make(map[uuid.UUID]reportcache.Row)}
}

func (f *fakeCache) TriggerOrJoin(context.Context) (reportcache.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		return f.rows[*f.current], false, nil
	}
	id := uuid.New()
	row := reportcache.Row{UUID: id, Generating: true, StartUTC: time.Now().UTC()}
	f.rows[id] = row
	f.current = &id
	return row, true, nil
}

func (f *fakeCache) Get(_ context.Context, id uuid.UUID) (reportcache.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return reportcache.Row{}, reportcache.ErrNoRow
	}
	return row, nil
}

func (f *fakeCache) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeCache) finish(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.Generating = false
	f.rows[id] = row
}

type fakeGenerator struct {
	calls    int32
	cacheDir string
	// block, if non-nil, is closed to let a GenerateForAll call proceed
	// past writing the ".tmp" file and on to the rename that publishes it,
	// so a test can observe the "generating" window the real fleetreport.Job
	// also has between creating .tmp and renaming it into place.
	block <-chan struct{}
}

// GenerateForAll mirrors fleetreport.Job's write strategy: the artifact is
// written to a ".tmp" path and only renamed into its final name once
// writing succeeds, so the final path is absent for the whole run.
func (g *fakeGenerator) GenerateForAll(_ context.Context, reportID uuid.UUID) error {
	atomic.AddInt32(&g.calls, 1)
	finalPath := filepath.Join(g.cacheDir, reportID.String()+".csv")
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte("store_id\n1\n"), 0o644); err != nil {
		return err
	}
	if g.block != nil {
		<-g.block
	}
	return os.Rename(tmpPath, finalPath)
}

func newTestManager(t *testing.T) (*Manager, *fakeCache, *fakeGenerator) {
	t.Helper()
	dir := t.TempDir()
	cache := newFakeCache()
	gen := &fakeGenerator{cacheDir: dir}
	return New(cache, gen, dir, zerolog.Nop()), cache, gen
}

func doRequest(r http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func waitForGeneration(t *testing.T, gen *fakeGenerator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&gen.calls) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("generator was never invoked")
}

func TestTriggerReport_FirstCallStartsGeneration(t *testing.T) {
	m, _, gen := newTestManager(t)
	r := gin.New()
	m.RegisterRoutes(r)

	w := doRequest(r, http.MethodGet, "/trigger_report")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ReportID uuid.UUID `json:"report_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEqual(t, uuid.Nil, body.ReportID)

	waitForGeneration(t, gen)
}

func TestTriggerReport_SecondCallJoinsTheFirst(t *testing.T) {
	m, _, gen := newTestManager(t)
	r := gin.New()
	m.RegisterRoutes(r)

	first := doRequest(r, http.MethodGet, "/trigger_report")
	second := doRequest(r, http.MethodGet, "/trigger_report")

	var firstBody, secondBody struct {
		ReportID uuid.UUID `json:"report_id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstBody))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondBody))
	require.Equal(t, firstBody.ReportID, secondBody.ReportID)

	waitForGeneration(t, gen)
	require.EqualValues(t, 1, gen.calls, "only one generation should have actually run")
}

func TestGetReport_UnknownIDReturnsNotFound(t *testing.T) {
	m, _, _ := newTestManager(t)
	r := gin.New()
	m.RegisterRoutes(r)

	w := doRequest(r, http.MethodGet, "/get_report?report_id="+uuid.New().String())
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"Not Found"}`, w.Body.String())
}

func TestGetReport_MalformedIDIsBadRequest(t *testing.T) {
	m, _, _ := newTestManager(t)
	r := gin.New()
	m.RegisterRoutes(r)

	w := doRequest(r, http.MethodGet, "/get_report?report_id=not-a-uuid")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReport_RowExistsButFileMissingDropsRowAndReportsNotFound(t *testing.T) {
	m, cache, _ := newTestManager(t)
	r := gin.New()
	m.RegisterRoutes(r)

	id := uuid.New()
	cache.mu.Lock()
	cache.rows[id] = reportcache.Row{UUID: id, Generating: false}
	cache.mu.Unlock()

	w := doRequest(r, http.MethodGet, "/get_report?report_id="+id.String())
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"Not Found"}`, w.Body.String())

	_, err := cache.Get(context.Background(), id)
	require.ErrorIs(t, err, reportcache.ErrNoRow)
}

func TestGetReport_StillGeneratingReportsStatus(t *testing.T) {
	m, cache, _ := newTestManager(t)
	r := gin.New()
	m.RegisterRoutes(r)

	id := uuid.New()
	cache.mu.Lock()
	cache.rows[id] = reportcache.Row{UUID: id, Generating: true}
	cache.mu.Unlock()

	// No artifact at all yet, final or otherwise: this is the normal state
	// for most of a report's lifetime, not an error condition.
	w := doRequest(r, http.MethodGet, "/get_report?report_id="+id.String())
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string    `json:"status"`
		ReportID uuid.UUID `json:"report_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "generating", body.Status)

	_, err := cache.Get(context.Background(), id)
	require.NoError(t, err, "a generating row must survive a poll even though its final artifact doesn't exist yet")
}

// TestGetReport_InFlightGenerationSurvivesPollingAgainstRealWriteStrategy
// reproduces the fleet-report lifecycle end to end: trigger, poll while the
// generator has written only its ".tmp" file, then poll again after the
// rename publishes the final artifact. A poll during the window between
// those two must report "generating" and never drop the row — dropping it
// would permanently strand the client, since TriggerReport only starts a
// new generation when none is already in flight.
func TestGetReport_InFlightGenerationSurvivesPollingAgainstRealWriteStrategy(t *testing.T) {
	dir := t.TempDir()
	store := newFakeCache()
	block := make(chan struct{})
	gen := &fakeGenerator{cacheDir: dir, block: block}
	m := New(store, gen, dir, zerolog.Nop())
	r := gin.New()
	m.RegisterRoutes(r)

	trigger := doRequest(r, http.MethodGet, "/trigger_report")
	require.Equal(t, http.StatusOK, trigger.Code)
	var triggerBody struct {
		ReportID uuid.UUID `json:"report_id"`
	}
	require.NoError(t, json.Unmarshal(trigger.Body.Bytes(), &triggerBody))
	id := triggerBody.ReportID

	// Wait for the generator to have started (and written its .tmp file)
	// without letting it finish.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, id.String()+".csv.tmp")); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	poll := doRequest(r, http.MethodGet, "/get_report?report_id="+id.String())
	require.Equal(t, http.StatusOK, poll.Code)
	var pollBody struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(poll.Body.Bytes(), &pollBody))
	require.Equal(t, "generating", pollBody.Status, "an in-flight report must not be reported Not Found")

	_, err := store.Get(context.Background(), id)
	require.NoError(t, err, "the row must not be deleted while generation is still in flight")

	close(block)
	waitForGeneration(t, gen)
	// Wait for the rename to publish the final artifact.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, id.String()+".csv")); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	store.finish(id)

	final := doRequest(r, http.MethodGet, "/get_report?report_id="+id.String())
	require.Equal(t, http.StatusOK, final.Code)
	require.Equal(t, "Completed", final.Header().Get("status"))
}

func TestGetReport_GeneratingStatusIsServedFromCacheOnSecondPoll(t *testing.T) {
	m, cacheStore, _ := newTestManager(t)
	m.WithStatusCache(cache.New(time.Minute))
	r := gin.New()
	m.RegisterRoutes(r)

	id := uuid.New()
	cacheStore.mu.Lock()
	cacheStore.rows[id] = reportcache.Row{UUID: id, Generating: true}
	cacheStore.mu.Unlock()

	first := doRequest(r, http.MethodGet, "/get_report?report_id="+id.String())
	require.Equal(t, http.StatusOK, first.Code)

	// Remove the row from the backing store entirely; a cached poll must
	// still report "generating" without consulting it.
	cacheStore.mu.Lock()
	delete(cacheStore.rows, id)
	cacheStore.mu.Unlock()

	second := doRequest(r, http.MethodGet, "/get_report?report_id="+id.String())
	require.Equal(t, http.StatusOK, second.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	require.Equal(t, "generating", body.Status)
}

func TestGetReport_CompletedStreamsCSVWithHeaders(t *testing.T) {
	m, cache, _ := newTestManager(t)
	r := gin.New()
	m.RegisterRoutes(r)

	id := uuid.New()
	cache.mu.Lock()
	cache.rows[id] = reportcache.Row{UUID: id, Generating: false}
	cache.mu.Unlock()
	require.NoError(t, os.WriteFile(filepath.Join(m.cacheDir, id.String()+".csv"), []byte("store_id\n1\n"), 0o644))

	w := doRequest(r, http.MethodGet, "/get_report?report_id="+id.String())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Completed", w.Header().Get("status"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "store_monitoring_"+id.String())
	require.Equal(t, "store_id\n1\n", w.Body.String())
}
