package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

const (
	CoinPaprikaSource = "coinpaprika_crypto"
	CoinGeckoSource   = "coingecko_crypto"

	defaultTopN = 50
)

// CoinPaprikaExtractor pulls the top tickers from the CoinPaprika API.
// The endpoint has no server-side "since" filter, so every run reloads the
// top N and relies on upserts.
type CoinPaprikaExtractor struct {
	client *HTTPClient
	url    string
	apiKey string
	topN   int
}

// NewCoinPaprikaExtractor creates the extractor. apiKey is optional.
func NewCoinPaprikaExtractor(client *HTTPClient, endpoint, apiKey string, topN int) *CoinPaprikaExtractor {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &CoinPaprikaExtractor{client: client, url: endpoint, apiKey: apiKey, topN: topN}
}

func (e *CoinPaprikaExtractor) Source() string { return CoinPaprikaSource }

func (e *CoinPaprikaExtractor) Extract(ctx context.Context, _ *time.Time) ([]etl.RawRecord, error) {
	var headers map[string]string
	if e.apiKey != "" {
		headers = map[string]string{"Authorization": e.apiKey}
	}
	var tickers []etl.RawRecord
	if err := e.client.GetJSON(ctx, e.url, nil, headers, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) > e.topN {
		tickers = tickers[:e.topN]
	}
	return tickers, nil
}

func (e *CoinPaprikaExtractor) Transform(ctx context.Context, raw etl.RawRecord, r etl.Resolver) (etl.UnifiedRecord, error) {
	id := stringField(raw, "id")
	if id == "" {
		return etl.UnifiedRecord{}, fmt.Errorf("coinpaprika ticker without id")
	}
	name := stringField(raw, "name")
	symbol := strings.ToUpper(stringField(raw, "symbol"))
	externalID := "cp_" + id

	canonicalID, err := r.Resolve(ctx, CoinPaprikaSource, externalID, symbol, name)
	if err != nil {
		return etl.UnifiedRecord{}, fmt.Errorf("resolving %s: %w", externalID, err)
	}

	usd := nestedMap(raw, "quotes", "USD")
	marketCap, err := numberField(usd, "market_cap")
	if err != nil {
		return etl.UnifiedRecord{}, fmt.Errorf("%s: %w", externalID, err)
	}
	description := "Market Cap: $" + formatMoney(marketCap)
	return etl.UnifiedRecord{
		ExternalID:  externalID,
		CanonicalID: &canonicalID,
		Title:       fmt.Sprintf("%s (%s)", name, symbol),
		Description: &description,
		Data: map[string]any{
			"price_usd":    usd["price"],
			"symbol":       symbol,
			"rank":         raw["rank"],
			"last_updated": raw["last_updated"],
		},
	}, nil
}

// CoinGeckoExtractor pulls the top coins by market cap from CoinGecko.
type CoinGeckoExtractor struct {
	client *HTTPClient
	url    string
	topN   int
}

// NewCoinGeckoExtractor creates the extractor.
func NewCoinGeckoExtractor(client *HTTPClient, endpoint string, topN int) *CoinGeckoExtractor {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &CoinGeckoExtractor{client: client, url: endpoint, topN: topN}
}

func (e *CoinGeckoExtractor) Source() string { return CoinGeckoSource }

func (e *CoinGeckoExtractor) Extract(ctx context.Context, _ *time.Time) ([]etl.RawRecord, error) {
	query := url.Values{
		"vs_currency": {"usd"},
		"order":       {"market_cap_desc"},
		"per_page":    {strconv.Itoa(e.topN)},
		"page":        {"1"},
		"sparkline":   {"false"},
	}
	var coins []etl.RawRecord
	if err := e.client.GetJSON(ctx, e.url, query, nil, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

func (e *CoinGeckoExtractor) Transform(ctx context.Context, raw etl.RawRecord, r etl.Resolver) (etl.UnifiedRecord, error) {
	id := stringField(raw, "id")
	if id == "" {
		return etl.UnifiedRecord{}, fmt.Errorf("coingecko coin without id")
	}
	name := stringField(raw, "name")
	symbol := strings.ToUpper(stringField(raw, "symbol"))
	externalID := "cg_" + id

	canonicalID, err := r.Resolve(ctx, CoinGeckoSource, externalID, symbol, name)
	if err != nil {
		return etl.UnifiedRecord{}, fmt.Errorf("resolving %s: %w", externalID, err)
	}

	description := fmt.Sprintf("Market Cap Rank: %v", raw["market_cap_rank"])
	return etl.UnifiedRecord{
		ExternalID:  externalID,
		CanonicalID: &canonicalID,
		Title:       fmt.Sprintf("%s (%s)", name, symbol),
		Description: &description,
		Data: map[string]any{
			"price_usd":    raw["current_price"],
			"symbol":       symbol,
			"market_cap":   raw["market_cap"],
			"last_updated": raw["last_updated"],
		},
	}, nil
}

func nestedMap(raw map[string]any, keys ...string) map[string]any {
	cur := raw
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		cur = next
	}
	return cur
}

// numberField reads a numeric field. A missing field is zero; a value that
// is present but not a number is an error.
func numberField(m map[string]any, key string) (float64, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Errorf("field %s: invalid number %q", key, v))
		}
		return f, nil
	default:
		return 0, apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Errorf("field %s: unexpected type %T", key, v))
	}
}

// formatMoney renders v with two decimals and thousands separators.
func formatMoney(v float64) string {
	return moneyPrinter.Sprintf("%.2f", v)
}
