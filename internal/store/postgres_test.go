package store

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *Store {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.New(context.Background(), config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "ingestion_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "postgres"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "postgres"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := New(db)
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := db.DB.ExecContext(ctx,
		`TRUNCATE etl_runs, etl_checkpoints, raw_records, unified_records, identity_mappings, canonical_entities RESTART IDENTITY`,
	); err != nil {
		t.Fatalf("truncating: %v", err)
	}
	return s
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type sliceExtractor struct {
	source  string
	records []etl.RawRecord
}

func (e *sliceExtractor) Source() string { return e.source }

func (e *sliceExtractor) Extract(_ context.Context, since *time.Time) ([]etl.RawRecord, error) {
	var out []etl.RawRecord
	for _, r := range e.records {
		ts, found, err := etl.RecordTimestamp(r)
		if since != nil && err == nil && found && !ts.After(*since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *sliceExtractor) Transform(ctx context.Context, raw etl.RawRecord, r etl.Resolver) (etl.UnifiedRecord, error) {
	id := raw["id"].(string)
	cid, err := r.Resolve(ctx, e.source, "x_"+id, raw["symbol"].(string), "")
	if err != nil {
		return etl.UnifiedRecord{}, err
	}
	return etl.UnifiedRecord{ExternalID: "x_" + id, Title: id, CanonicalID: &cid, Data: map[string]any(raw)}, nil
}

func TestPostgresIncrementalCycle(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	ex := &sliceExtractor{source: "pg_test", records: []etl.RawRecord{
		{"id": "1", "symbol": "btc", "created_at": "2023-01-01T10:00:00Z"},
		{"id": "2", "symbol": "eth", "created_at": "2023-01-02T10:00:00Z"},
	}}
	o := etl.NewOrchestrator(s)

	if _, err := o.Execute(ctx, ex, etl.RunOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	ex.records = append(ex.records, etl.RawRecord{"id": "3", "symbol": "BTC", "created_at": "2023-01-03T10:00:00Z"})
	res, err := o.Execute(ctx, ex, etl.RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.RecordsProcessed != 1 {
		t.Errorf("expected 1 record, got %d", res.RecordsProcessed)
	}

	recs, total, err := s.ListUnified(ctx, UnifiedQuery{Limit: 10, Source: "pg_test"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(recs) != 3 {
		t.Fatalf("expected 3 records, got total=%d len=%d", total, len(recs))
	}

	cp, err := s.GetCheckpoint(ctx, "pg_test")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2023, 1, 3, 10, 0, 0, 0, time.UTC)
	if cp == nil || cp.LastProcessedAt == nil || !cp.LastProcessedAt.Equal(want) || cp.LastRunID != res.RunID {
		t.Errorf("unexpected checkpoint %+v", cp)
	}

	latest, err := s.LatestRunPerSource(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].RunID != res.RunID || latest[0].Status != etl.RunSuccess {
		t.Errorf("unexpected latest runs %+v", latest)
	}
	sum, err := s.SummarizeBatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalBatches != 2 || sum.SuccessfulBatches != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
}
