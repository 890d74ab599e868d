package sources

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/config"
)

func TestBuildPreservesOrder(t *testing.T) {
	exs, err := Build(config.ETLConfig{EnabledSources: []string{"rss", "csv", "coingecko", "csv"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{RSSSource, CSVSource, CoinGeckoSource}
	if len(exs) != len(want) {
		t.Fatalf("expected %d extractors, got %d", len(want), len(exs))
	}
	for i, ex := range exs {
		if ex.Source() != want[i] {
			t.Errorf("extractor %d: got %s, want %s", i, ex.Source(), want[i])
		}
	}
}

func TestBuildRejectsUnknown(t *testing.T) {
	if _, err := Build(config.ETLConfig{EnabledSources: []string{"ftp"}}, nil); err == nil {
		t.Error("expected error")
	}
}
