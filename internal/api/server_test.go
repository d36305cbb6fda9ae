package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adnsalim/murattil/internal/api"
	"github.com/adnsalim/murattil/internal/connectivity"
	"github.com/adnsalim/murattil/internal/correction"
	"github.com/adnsalim/murattil/internal/quran"
	"github.com/adnsalim/murattil/internal/recorder"
	"github.com/adnsalim/murattil/internal/store"
	"github.com/adnsalim/murattil/pkg/capture"
	"github.com/adnsalim/murattil/pkg/capture/mock"
)

// fixture bundles the wired subsystems behind a test HTTP handler.
type fixture struct {
	handler  http.Handler
	device   *mock.Device
	store    store.ContentStore
	tracker  *connectivity.Tracker
	pipeline *recorder.Pipeline
}

type mapFetcher struct {
	mu    sync.Mutex
	texts map[quran.Reference]string
	calls int
}

func (f *mapFetcher) Fetch(_ context.Context, ref quran.Reference) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	text, ok := f.texts[ref]
	if !ok {
		return "", fmt.Errorf("no text for %v", ref)
	}
	return text, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemStore()
	t.Cleanup(func() { st.Close() })

	dev := &mock.Device{}
	tracker := connectivity.New(st)
	pipeline := recorder.New(dev, st)

	history, err := correction.NewHistory(context.Background(), st)
	if err != nil {
		t.Fatalf("NewHistory: %v", err)
	}

	seed := quran.Fatiha()
	cache := quran.NewCachingLookup(st, quran.WithSeed(seed))
	fetcher := &mapFetcher{texts: map[quran.Reference]string{
		{Surah: 112, Ayah: 1}: "قل هو الله احد",
	}}
	populator := quran.NewPopulator(cache, fetcher, tracker)

	srv := api.New(api.Config{
		Store:     st,
		Tracker:   tracker,
		Pipeline:  pipeline,
		Engine:    correction.NewEngine(seed),
		History:   history,
		Populator: populator,
		Passages:  []quran.Reference{{Surah: 112, Ayah: 1}},
	})

	return &fixture{
		handler:  srv.Handler(),
		device:   dev,
		store:    st,
		tracker:  tracker,
		pipeline: pipeline,
	}
}

// do issues a request against the fixture and returns the recorded response.
func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	status := decodeBody[connectivity.Status](t, rec)
	if !status.Online || !status.CanSync {
		t.Errorf("fresh tracker should be online and syncable, got %+v", status)
	}
}

func TestConnectivityToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/connectivity", map[string]bool{"online": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	status := decodeBody[connectivity.Status](t, rec)
	if status.Online || status.CanSync {
		t.Errorf("expected offline status, got %+v", status)
	}
}

func TestRequestAccessGranted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/recordings/access", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody[map[string]bool](t, rec)
	if !body["granted"] {
		t.Error("expected granted=true")
	}
}

func TestRequestAccessDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.device.OpenError = capture.ErrPermissionDenied

	rec := f.do(t, http.MethodPost, "/v1/recordings/access", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestStartWithoutAccessIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/recordings/start", map[string]any{"id": "r1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStartRejectsInvalidReference(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/recordings/access", nil)

	rec := f.do(t, http.MethodPost, "/v1/recordings/start", map[string]any{
		"id":        "r1",
		"reference": map[string]int{"surah": 115, "ayah": 1},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.do(t, http.MethodPost, "/v1/recordings/access", nil)

	rec := f.do(t, http.MethodPost, "/v1/recordings/start", map[string]any{
		"id":        "lifecycle",
		"reference": map[string]int{"surah": 1, "ayah": 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}

	f.device.Push([]byte{1, 2, 3})
	f.device.Push([]byte{4})

	rec = f.do(t, http.MethodPost, "/v1/recordings/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body %s", rec.Code, rec.Body.String())
	}
	meta := decodeBody[recorder.Metadata](t, rec)
	if meta.ID != "lifecycle" {
		t.Errorf("metadata id = %q, want %q", meta.ID, "lifecycle")
	}

	rec = f.do(t, http.MethodGet, "/v1/recordings", nil)
	metas := decodeBody[[]recorder.Metadata](t, rec)
	if len(metas) != 1 {
		t.Fatalf("list returned %d recordings, want 1", len(metas))
	}

	rec = f.do(t, http.MethodGet, "/v1/recordings/lifecycle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/recordings/lifecycle/audio", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audio status = %d", rec.Code)
	}
	if got := rec.Body.Bytes(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("audio = %v, want [1 2 3 4]", got)
	}

	rec = f.do(t, http.MethodDelete, "/v1/recordings/lifecycle", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/recordings", nil)
	if metas := decodeBody[[]recorder.Metadata](t, rec); len(metas) != 0 {
		t.Errorf("list after delete returned %d recordings, want 0", len(metas))
	}
}

func TestStopWithoutCapture(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/recordings/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGetUnknownRecording(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/recordings/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCorrectionRecordsHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/corrections", map[string]any{
		"reference":     map[string]int{"surah": 1, "ayah": 2},
		"recorded_text": "الحمد لله رب العالمين",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[correction.Result](t, rec)
	if result.Score != 100 || !result.Correct {
		t.Errorf("result = %+v, want score 100 correct", result)
	}

	rec = f.do(t, http.MethodGet, "/v1/corrections/history", nil)
	sessions := decodeBody[[]correction.Session](t, rec)
	if len(sessions) != 1 {
		t.Fatalf("history has %d sessions, want 1", len(sessions))
	}
	if sessions[0].ID == "" {
		t.Error("recorded session should have a generated ID")
	}

	rec = f.do(t, http.MethodGet, "/v1/stats", nil)
	stats := decodeBody[correction.Statistics](t, rec)
	if stats.TotalSessions != 1 || stats.CorrectSessions != 1 {
		t.Errorf("stats = %+v, want 1 total / 1 correct", stats)
	}
}

func TestCorrectionRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/corrections", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCacheRefreshOfflineIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.tracker.SetOnline(false)

	rec := f.do(t, http.MethodPost, "/v1/cache/refresh", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCacheRefreshPopulatesStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/cache/refresh", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	key := (quran.Reference{Surah: 112, Ayah: 1}).Key()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, found, _ := f.store.GetBytes(context.Background(), store.RegionData, key); found {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("key %q was not populated before deadline", key)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}

	// Device access has not been granted yet.
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before grant = %d, want 503", rec.Code)
	}

	f.do(t, http.MethodPost, "/v1/recordings/access", nil)
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz after grant = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d, want 200", rec.Code)
	}
}

func TestClearAllWipesContent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ctx := context.Background()
	if err := f.store.PutBytes(ctx, store.RegionData, "k", []byte("v")); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rec := f.do(t, http.MethodDelete, "/v1/content", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	if _, found, _ := f.store.GetBytes(ctx, store.RegionData, "k"); found {
		t.Error("store should be empty after clear")
	}
}
