package etl_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl/etltest"
)

func TestSweepSharesBatchAndContinuesPastFailures(t *testing.T) {
	store := etltest.NewStore()
	good := &feedExtractor{source: "good"}
	good.add(rec("1", "BTC", "2023-01-01"))
	bad := &feedExtractor{source: "bad", extractErr: errors.New("timeout")}
	later := &feedExtractor{source: "later"}
	later.add(rec("9", "ETH", "2023-01-01"))

	s := etl.NewSweeper(etl.NewOrchestrator(store), good, bad, later)
	report, err := s.Sweep(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !report.Failed() || report.Errors["bad"] == nil {
		t.Errorf("expected failure for bad, got %v", report.Errors)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	for _, r := range store.Runs() {
		if r.BatchID != report.BatchID {
			t.Errorf("run %s has batch %s, want %s", r.RunID, r.BatchID, report.BatchID)
		}
	}
	if len(store.Unified()) != 2 {
		t.Errorf("expected 2 unified records, got %d", len(store.Unified()))
	}
}

func TestSweepFiltersSources(t *testing.T) {
	store := etltest.NewStore()
	a := &feedExtractor{source: "a"}
	b := &feedExtractor{source: "b"}
	s := etl.NewSweeper(etl.NewOrchestrator(store), a, b)

	if got := s.Sources(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected sources %v", got)
	}
	report, err := s.Sweep(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Results) != 1 || report.Results[0].Source != "b" {
		t.Errorf("expected only b to run, got %+v", report.Results)
	}
}

func TestSweepStopsWhenCancelled(t *testing.T) {
	store := etltest.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := etl.NewSweeper(etl.NewOrchestrator(store), &feedExtractor{source: "a"})
	if _, err := s.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(store.Runs()) != 0 {
		t.Errorf("expected no runs, got %d", len(store.Runs()))
	}
}
