package etl_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl/etltest"
	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// feedExtractor serves records from an in-memory feed, filtering by the
// created_at field like a real incremental source.
type feedExtractor struct {
	source     string
	mu         sync.Mutex
	feed       []etl.RawRecord
	extractErr error
	failOn     string
	block      bool
	replay     bool
}

func (f *feedExtractor) Source() string { return f.source }

func (f *feedExtractor) add(recs ...etl.RawRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feed = append(f.feed, recs...)
}

func (f *feedExtractor) Extract(ctx context.Context, since *time.Time) ([]etl.RawRecord, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []etl.RawRecord
	for _, r := range f.feed {
		if since != nil && !f.replay {
			ts, found, err := etl.RecordTimestamp(r)
			if err == nil && found && !ts.After(*since) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *feedExtractor) Transform(ctx context.Context, raw etl.RawRecord, r etl.Resolver) (etl.UnifiedRecord, error) {
	id := fmt.Sprint(raw["id"])
	if f.failOn != "" && id == f.failOn {
		return etl.UnifiedRecord{}, errors.New("malformed record")
	}
	externalID := "t_" + id
	rec := etl.UnifiedRecord{
		ExternalID: externalID,
		Title:      fmt.Sprint(raw["title"]),
		Data:       map[string]any(raw),
	}
	if sym, ok := raw["symbol"].(string); ok {
		cid, err := r.Resolve(ctx, f.source, externalID, sym, rec.Title)
		if err != nil {
			return etl.UnifiedRecord{}, err
		}
		rec.CanonicalID = &cid
	}
	return rec, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []etl.RunEvent
}

func (n *recordingNotifier) NotifyRun(_ context.Context, ev etl.RunEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func rec(id, symbol, createdAt string) etl.RawRecord {
	return etl.RawRecord{"id": id, "title": "item " + id, "symbol": symbol, "created_at": createdAt}
}

func TestExecuteIncrementalCycles(t *testing.T) {
	ctx := context.Background()
	store := etltest.NewStore()
	ex := &feedExtractor{source: "feed"}
	ex.add(rec("1", "BTC", "2023-01-01T10:00:00Z"), rec("2", "ETH", "2023-01-02T10:00:00Z"))
	o := etl.NewOrchestrator(store)

	res, err := o.Execute(ctx, ex, etl.RunOptions{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.RecordsProcessed != 2 || res.Status != etl.RunSuccess {
		t.Fatalf("unexpected first result %+v", res)
	}

	ex.add(rec("3", "BTC", "2023-01-03T10:00:00Z"))
	res, err = o.Execute(ctx, ex, etl.RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.RecordsProcessed != 1 {
		t.Errorf("expected 1 new record, got %d", res.RecordsProcessed)
	}
	if n := len(store.Unified()); n != 3 {
		t.Errorf("expected 3 unified records, got %d", n)
	}
	if store.RawCount() != 3 {
		t.Errorf("expected 3 raw records, got %d", store.RawCount())
	}

	// Records 1 and 3 share BTC across runs.
	u := store.Unified()
	if *u[0].CanonicalID != *u[2].CanonicalID || *u[0].CanonicalID == *u[1].CanonicalID {
		t.Errorf("unexpected canonical ids %d %d %d", *u[0].CanonicalID, *u[1].CanonicalID, *u[2].CanonicalID)
	}

	runs := store.Runs()
	if len(runs) != 2 || runs[0].RunID == runs[1].RunID {
		t.Fatalf("expected two distinct runs, got %+v", runs)
	}
	for _, r := range runs {
		if r.Status != etl.RunSuccess || r.EndedAt == nil || r.ErrorMessage != "" {
			t.Errorf("unexpected run %+v", r)
		}
	}
}

func TestCheckpointIsMaxUTCAndNeverDecreases(t *testing.T) {
	ctx := context.Background()
	store := etltest.NewStore()
	ex := &feedExtractor{source: "feed"}
	ex.add(
		rec("1", "", "2023-01-02T12:00:00+02:00"),
		rec("2", "", "2023-01-02T09:30:00Z"),
	)
	o := etl.NewOrchestrator(store)

	res, err := o.Execute(ctx, ex, etl.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2023, 1, 2, 10, 0, 0, 0, time.UTC)
	if cp := store.Checkpoint("feed"); cp == nil || !cp.Equal(want) {
		t.Fatalf("expected checkpoint %v, got %v", want, cp)
	}
	if res.Checkpoint == nil || !res.Checkpoint.Equal(want) {
		t.Errorf("expected result checkpoint %v, got %v", want, res.Checkpoint)
	}

	// A source that replays older data must not move the mark backwards.
	replay := &feedExtractor{source: "feed", replay: true}
	replay.add(etl.RawRecord{"id": "old", "title": "old", "updated_at": "2020-01-01"})
	if _, err := o.Execute(ctx, replay, etl.RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if cp := store.Checkpoint("feed"); !cp.Equal(want) {
		t.Errorf("checkpoint moved backwards to %v", cp)
	}
}

func TestUnparseableTimestampsAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := etltest.NewStore()
	m := metrics.New(prometheus.NewRegistry())
	ex := &feedExtractor{source: "feed"}
	ex.add(
		etl.RawRecord{"id": "1", "title": "a", "created_at": "not a date"},
		etl.RawRecord{"id": "2", "title": "b", "created_at": "2023-05-01"},
		etl.RawRecord{"id": "3", "title": "c"},
	)
	res, err := etl.NewOrchestrator(store, etl.WithMetrics(m)).Execute(ctx, ex, etl.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RecordsProcessed != 3 {
		t.Errorf("expected all 3 records loaded, got %d", res.RecordsProcessed)
	}
	if cp := store.Checkpoint("feed"); cp == nil || !cp.Equal(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected checkpoint %v", cp)
	}

	body := scrape(t, m)
	for _, want := range []string{
		`etl_timestamp_parse_failures_total{source="feed"} 1`,
		`etl_runs_total{source="feed",status="success"} 1`,
		`etl_records_processed_total{source="feed"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestNoTimestampsLeavesCheckpointUnset(t *testing.T) {
	store := etltest.NewStore()
	ex := &feedExtractor{source: "feed"}
	ex.add(etl.RawRecord{"id": "1", "title": "a"})
	if _, err := etl.NewOrchestrator(store).Execute(context.Background(), ex, etl.RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if cp := store.Checkpoint("feed"); cp != nil {
		t.Errorf("expected no checkpoint, got %v", cp)
	}
}

func TestFailedExtractionRollsBackAndRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := etltest.NewStore()
	ok := &feedExtractor{source: "feed"}
	ok.add(rec("1", "BTC", "2023-01-01T00:00:00Z"))
	o := etl.NewOrchestrator(store)
	if _, err := o.Execute(ctx, ok, etl.RunOptions{}); err != nil {
		t.Fatal(err)
	}
	before := store.Checkpoint("feed")

	broken := &feedExtractor{source: "feed", extractErr: errors.New("upstream 503")}
	res, err := o.Execute(ctx, broken, etl.RunOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, apperrors.ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", err)
	}
	if res == nil || res.Status != etl.RunFailure || res.RecordsProcessed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(store.Unified()) != 1 || store.RawCount() != 1 {
		t.Errorf("store changed by failed run")
	}
	if cp := store.Checkpoint("feed"); !cp.Equal(*before) {
		t.Errorf("checkpoint changed by failed run: %v", cp)
	}

	runs := store.Runs()
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	failed := runs[1]
	if failed.Status != etl.RunFailure || !strings.Contains(failed.ErrorMessage, "upstream 503") || failed.RecordsProcessed != 0 {
		t.Errorf("unexpected failure run %+v", failed)
	}
}

func TestMidBatchFailureDiscardsPartialWork(t *testing.T) {
	ctx := context.Background()
	store := etltest.NewStore()
	ex := &feedExtractor{source: "feed", failOn: "2"}
	ex.add(rec("1", "NEW", "2023-01-01T00:00:00Z"), rec("2", "NEW", "2023-01-02T00:00:00Z"))

	if _, err := etl.NewOrchestrator(store).Execute(ctx, ex, etl.RunOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if len(store.Unified()) != 0 || store.RawCount() != 0 {
		t.Error("partial batch leaked")
	}
	if _, ok := store.Entities()["NEW"]; ok {
		t.Error("identity created by failed run leaked")
	}
	if store.Checkpoint("feed") != nil {
		t.Error("checkpoint advanced by failed run")
	}
}

func TestUnkeyableRecordFailsRun(t *testing.T) {
	store := etltest.NewStore()
	ex := &feedExtractor{source: "feed"}
	ex.add(rec(strings.Repeat("9", 300), "BTC", "2023-01-01T00:00:00Z"))

	_, err := etl.NewOrchestrator(store).Execute(context.Background(), ex, etl.RunOptions{})
	var ve *etl.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(store.Unified()) != 0 || store.Runs()[0].Status != etl.RunFailure {
		t.Error("invalid record should fail the run without loading")
	}
}

func TestCancelledRunIsStillFinalized(t *testing.T) {
	store := etltest.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := &feedExtractor{source: "feed", block: true}
	if _, err := etl.NewOrchestrator(store).Execute(ctx, ex, etl.RunOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	runs := store.Runs()
	if len(runs) != 1 || runs[0].Status != etl.RunFailure || runs[0].EndedAt == nil {
		t.Errorf("expected finalized failure run, got %+v", runs)
	}
}

func TestExtractTimeout(t *testing.T) {
	store := etltest.NewStore()
	ex := &feedExtractor{source: "slow", block: true}
	o := etl.NewOrchestrator(store, etl.WithExtractTimeout(10*time.Millisecond))

	_, err := o.Execute(context.Background(), ex, etl.RunOptions{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if runs := store.Runs(); runs[0].Status != etl.RunFailure {
		t.Errorf("expected failure, got %s", runs[0].Status)
	}
}

func TestRunOptionsAndNotification(t *testing.T) {
	store := etltest.NewStore()
	n := &recordingNotifier{}
	ex := &feedExtractor{source: "feed"}
	ex.add(rec("1", "", "2023-01-01"))

	res, err := etl.NewOrchestrator(store, etl.WithNotifier(n)).
		Execute(context.Background(), ex, etl.RunOptions{RunID: "manual_42", BatchID: "b1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID != "manual_42" || res.BatchID != "b1" {
		t.Errorf("unexpected ids %s/%s", res.RunID, res.BatchID)
	}
	if len(n.events) != 1 || n.events[0].RunID != "manual_42" || n.events[0].Status != etl.RunSuccess || n.events[0].RecordsProcessed != 1 {
		t.Errorf("unexpected events %+v", n.events)
	}
}

func TestDuplicateRunIDIsRejected(t *testing.T) {
	store := etltest.NewStore()
	ex := &feedExtractor{source: "feed"}
	o := etl.NewOrchestrator(store)
	if _, err := o.Execute(context.Background(), ex, etl.RunOptions{RunID: "r1"}); err != nil {
		t.Fatal(err)
	}
	res, err := o.Execute(context.Background(), ex, etl.RunOptions{RunID: "r1"})
	if err == nil || res != nil {
		t.Fatalf("expected rejection, got res=%v err=%v", res, err)
	}
	if len(store.Runs()) != 1 {
		t.Errorf("expected ledger untouched, got %d runs", len(store.Runs()))
	}
}

func TestFinalizeFailureSurfaces(t *testing.T) {
	store := etltest.NewStore()
	store.FailFinish = errors.New("ledger down")
	_, err := etl.NewOrchestrator(store).Execute(context.Background(), &feedExtractor{source: "feed"}, etl.RunOptions{})
	if err == nil || !strings.Contains(err.Error(), "ledger down") {
		t.Errorf("expected finalize error, got %v", err)
	}
}

func TestEmptySourceNameIsInvalid(t *testing.T) {
	_, err := etl.NewOrchestrator(etltest.NewStore()).Execute(context.Background(), &feedExtractor{}, etl.RunOptions{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
