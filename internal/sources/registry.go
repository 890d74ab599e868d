package sources

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/resilience"
)

// Build returns the extractors named in cfg.EnabledSources, in order.
// Recognised names are csv, coinpaprika, coingecko and rss.
func Build(cfg config.ETLConfig, m *metrics.Metrics) ([]etl.Extractor, error) {
	httpCfg := func() HTTPConfig {
		return HTTPConfig{
			Timeout:           cfg.HTTPTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Retry:             resilience.RetryConfig{MaxAttempts: 3},
			Breaker:           resilience.CircuitBreakerConfig{FailureThreshold: 3},
		}
	}

	var out []etl.Extractor
	seen := make(map[string]bool)
	for _, name := range cfg.EnabledSources {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case "csv":
			out = append(out, NewCSVExtractor(cfg.CSVPath))
		case "coinpaprika":
			out = append(out, NewCoinPaprikaExtractor(
				NewHTTPClient("coinpaprika", httpCfg(), m), cfg.CoinPaprikaURL, cfg.CoinPaprikaAPIKey, cfg.APITopN))
		case "coingecko":
			out = append(out, NewCoinGeckoExtractor(
				NewHTTPClient("coingecko", httpCfg(), m), cfg.CoinGeckoURL, cfg.APITopN))
		case "rss":
			out = append(out, NewRSSExtractor(NewHTTPClient("rss", httpCfg(), m), cfg.RSSURL))
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	return out, nil
}
