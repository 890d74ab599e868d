package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/cache"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/store"
	pkgerrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type fakeReader struct {
	records []etl.UnifiedRecord
	runs    []etl.RunRecord
	summary store.BatchSummary
	pingErr error
	lastQ   store.UnifiedQuery
	lists   int
}

func (f *fakeReader) ListUnified(_ context.Context, q store.UnifiedQuery) ([]etl.UnifiedRecord, int, error) {
	f.lists++
	f.lastQ = q
	end := min(q.Skip+q.Limit, len(f.records))
	if q.Skip >= len(f.records) {
		return nil, len(f.records), nil
	}
	return f.records[q.Skip:end], len(f.records), nil
}

func (f *fakeReader) LatestRunPerSource(context.Context) ([]etl.RunRecord, error) {
	return f.runs, nil
}

func (f *fakeReader) SummarizeBatches(context.Context) (store.BatchSummary, error) {
	return f.summary, nil
}

func (f *fakeReader) Ping(context.Context) error { return f.pingErr }

type fakeRunner struct {
	err     error
	opts    etl.RunOptions
	fetched int
}

func (f *fakeRunner) Execute(ctx context.Context, ex etl.Extractor, opts etl.RunOptions) (*etl.Result, error) {
	f.opts = opts
	recs, err := ex.Extract(ctx, nil)
	if err != nil {
		return nil, err
	}
	f.fetched = len(recs)
	res := &etl.Result{RunID: opts.RunID, Source: ex.Source(), Status: etl.RunSuccess, RecordsProcessed: len(recs)}
	if f.err != nil {
		res.Status = etl.RunFailure
		return res, fmt.Errorf("run %s (%s): %w", opts.RunID, ex.Source(), f.err)
	}
	return res, nil
}

type fakeTrigger struct {
	events []etl.TriggerEvent
}

func (f *fakeTrigger) Trigger(_ context.Context, ev etl.TriggerEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBackend) FlushByPattern(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string][]byte{}
	return n, nil
}

func records(n int) []etl.UnifiedRecord {
	out := make([]etl.UnifiedRecord, n)
	for i := range out {
		out[i] = etl.UnifiedRecord{ID: int64(i + 1), Source: "csv_crypto", ExternalID: fmt.Sprintf("csv_%d", i+1), Title: "row"}
	}
	return out
}

func TestDataPagesAndCaches(t *testing.T) {
	reader := &fakeReader{records: records(5)}
	qc := cache.New(&memBackend{data: map[string][]byte{}}, time.Minute, nil)
	h := New(Config{DefaultLimit: 2, MaxLimit: 3}, reader, qc, nil, nil)

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.Data(rec, httptest.NewRequest("GET", target, nil))
		return rec
	}

	rec := get("/api/v1/data?skip=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []etl.UnifiedRecord
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 2 {
		t.Errorf("unexpected page %+v", got)
	}
	if rec.Header().Get(TotalCountHeader) != "5" || rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("unexpected headers %v", rec.Header())
	}

	rec = get("/api/v1/data?skip=1")
	if rec.Header().Get("X-Cache") != "HIT" || reader.lists != 1 {
		t.Errorf("expected cached second read, lists=%d", reader.lists)
	}

	get("/api/v1/data?limit=50")
	if reader.lastQ.Limit != 3 {
		t.Errorf("expected limit clamped to 3, got %d", reader.lastQ.Limit)
	}
}

func TestDataRejectsBadParams(t *testing.T) {
	h := New(Config{}, &fakeReader{}, nil, nil, nil)
	for _, target := range []string{"/api/v1/data?skip=-1", "/api/v1/data?limit=0", "/api/v1/data?limit=abc"} {
		rec := httptest.NewRecorder()
		h.Data(rec, httptest.NewRequest("GET", target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestDataEmptyIsArray(t *testing.T) {
	h := New(Config{}, &fakeReader{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.Data(rec, httptest.NewRequest("GET", "/api/v1/data", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestStatsMapsLatestRuns(t *testing.T) {
	ended := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reader := &fakeReader{runs: []etl.RunRecord{
		{Source: "csv_crypto", Status: etl.RunSuccess, RecordsProcessed: 3, DurationMS: 12, EndedAt: &ended},
		{Source: "rss_news", Status: etl.RunFailure, ErrorMessage: "timeout"},
	}}
	h := New(Config{}, reader, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))

	var got []SourceStats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(got))
	}
	if got[0].ErrorMessage != nil || got[0].LastRunAt == nil || !got[0].LastRunAt.Equal(ended) {
		t.Errorf("unexpected csv stats %+v", got[0])
	}
	if got[1].ErrorMessage == nil || *got[1].ErrorMessage != "timeout" {
		t.Errorf("unexpected rss stats %+v", got[1])
	}
}

func TestHealth(t *testing.T) {
	ended := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	reader := &fakeReader{summary: store.BatchSummary{TotalBatches: 4, SuccessfulBatches: 3, LastRunEndedAt: &ended}}
	h := New(Config{}, reader, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	var got HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.DBConnected || got.Status != "healthy" || got.TotalRuns != 4 || got.SuccessRuns != 3 {
		t.Errorf("unexpected health %+v", got)
	}

	reader.pingErr = errors.New("refused")
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	got = HealthStatus{}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || got.DBConnected || got.Status != "degraded" {
		t.Errorf("expected degraded 200, got %d %+v", rec.Code, got)
	}
}

func TestTrigger(t *testing.T) {
	trig := &fakeTrigger{}
	h := New(Config{}, &fakeReader{}, nil, nil, trig)

	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest("POST", "/api/v1/trigger", strings.NewReader(`{"sources":["rss_news"]}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(trig.events) != 1 || trig.events[0].Sources[0] != "rss_news" || trig.events[0].RequestID == "" {
		t.Errorf("unexpected trigger events %+v", trig.events)
	}

	rec = httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest("POST", "/api/v1/trigger", nil))
	if rec.Code != http.StatusAccepted || len(trig.events) != 2 || trig.events[1].Sources != nil {
		t.Errorf("expected bodiless trigger for all sources, got %d %+v", rec.Code, trig.events)
	}
}

func TestTriggerUnconfigured(t *testing.T) {
	h := New(Config{}, &fakeReader{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.Trigger(rec, httptest.NewRequest("POST", "/api/v1/trigger", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	r := httptest.NewRequest("POST", "/api/v1/upload-csv", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

const uploadCSV = "id,symbol,name,price,created_at\n1,BTC,Bitcoin,50000,2024-01-01 10:00:00\n2,ETH,Ethereum,3000,2024-01-01 11:00:00\n"

func TestUploadCSVRunsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	h := New(Config{UploadDir: dir}, &fakeReader{}, nil, runner, nil)

	rec := httptest.NewRecorder()
	h.UploadCSV(rec, uploadRequest(t, "prices.csv", uploadCSV))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if runner.fetched != 2 {
		t.Errorf("expected extractor to see 2 rows, got %d", runner.fetched)
	}
	if !strings.HasPrefix(runner.opts.RunID, "manual_") || len(runner.opts.RunID) != len("manual_")+8 {
		t.Errorf("unexpected run id %q", runner.opts.RunID)
	}

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "success" || got["records_processed"] != float64(2) || got["run_id"] != runner.opts.RunID {
		t.Errorf("unexpected response %v", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected staged file to be removed, found %d entries", len(entries))
	}
}

func TestUploadCSVRejectsOtherExtensions(t *testing.T) {
	runner := &fakeRunner{}
	h := New(Config{UploadDir: t.TempDir()}, &fakeReader{}, nil, runner, nil)
	rec := httptest.NewRecorder()
	h.UploadCSV(rec, uploadRequest(t, "prices.txt", uploadCSV))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if runner.opts.RunID != "" {
		t.Error("runner should not be invoked")
	}
}

func TestUploadCSVRunFailure(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{err: pkgerrors.Wrap(pkgerrors.ErrStorage, errors.New("disk full"))}
	h := New(Config{UploadDir: dir}, &fakeReader{}, nil, runner, nil)
	rec := httptest.NewRecorder()
	h.UploadCSV(rec, uploadRequest(t, "prices.csv", uploadCSV))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "disk full") {
		t.Errorf("expected error detail, got %s", rec.Body.String())
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Error("expected staged file to be removed after failure")
	}
}

func TestCacheEndpoints(t *testing.T) {
	reader := &fakeReader{records: records(1)}
	qc := cache.New(&memBackend{data: map[string][]byte{}}, time.Minute, nil)
	h := New(Config{}, reader, qc, nil, nil)

	h.Data(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/data", nil))
	rec := httptest.NewRecorder()
	h.CacheInvalidate(rec, httptest.NewRequest("POST", "/api/v1/cache/invalidate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	h.Data(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/data", nil))
	if reader.lists != 2 {
		t.Errorf("expected read-through after invalidation, lists=%d", reader.lists)
	}

	rec = httptest.NewRecorder()
	h.CacheStats(rec, httptest.NewRequest("GET", "/api/v1/cache/stats", nil))
	var stats map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats["misses"] != 2 || stats["hits"] != 0 {
		t.Errorf("unexpected stats %v", stats)
	}
}
