// Package sources holds the concrete extractors: CSV files, crypto market
// REST APIs and RSS feeds.
package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
)

// CSVSource is the default source name of CSVExtractor.
const CSVSource = "csv_crypto"

const csvTimeLayout = "2006-01-02T15:04:05Z"

// CSVExtractor reads price rows (id, symbol, name, price, created_at) from
// a local file.
type CSVExtractor struct {
	source string
	path   string
}

// NewCSVExtractor creates an extractor for path under CSVSource.
func NewCSVExtractor(path string) *CSVExtractor {
	return &CSVExtractor{source: CSVSource, path: path}
}

// WithSource returns a copy of e that reports source instead.
func (e *CSVExtractor) WithSource(source string) *CSVExtractor {
	c := *e
	c.source = source
	return &c
}

func (e *CSVExtractor) Source() string { return e.source }

// Extract returns every row whose created_at is after since. A missing file
// yields no records. Rows without a parseable created_at are kept when there
// is no checkpoint and dropped otherwise, since they cannot be ordered.
func (e *CSVExtractor) Extract(ctx context.Context, since *time.Time) ([]etl.RawRecord, error) {
	f, err := os.Open(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", e.path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header from %s: %w", e.path, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}

	var records []etl.RawRecord
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", e.path, line, err)
		}
		rec := make(etl.RawRecord, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = strings.TrimSpace(row[i])
			}
		}
		ts, err := etl.ParseTimestamp(rec["created_at"])
		if err == nil {
			rec["created_at"] = ts.Format(csvTimeLayout)
		}
		if since != nil && (err != nil || !ts.After(*since)) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Transform maps a row onto a unified record and resolves the symbol to a
// canonical entity.
func (e *CSVExtractor) Transform(ctx context.Context, raw etl.RawRecord, r etl.Resolver) (etl.UnifiedRecord, error) {
	symbol := stringField(raw, "symbol")
	if symbol == "" {
		symbol = "UNKNOWN"
	}
	name := stringField(raw, "name")
	if name == "" {
		name = symbol
	}
	id := stringField(raw, "id")
	if id == "" {
		id = symbol
	}

	canonicalID, err := r.Resolve(ctx, e.source, id, symbol, name)
	if err != nil {
		return etl.UnifiedRecord{}, fmt.Errorf("resolving %s: %w", id, err)
	}

	var price float64
	if p := stringField(raw, "price"); p != "" {
		if price, err = strconv.ParseFloat(p, 64); err != nil {
			return etl.UnifiedRecord{}, apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Errorf("row %s: invalid price %q", id, p))
		}
	}
	title := stringField(raw, "title")
	if title == "" {
		title = fmt.Sprintf("%s (%s)", name, symbol)
	}
	description := stringField(raw, "description")
	if description == "" {
		description = fmt.Sprintf("CSV Price: %s", strconv.FormatFloat(price, 'f', -1, 64))
	}

	return etl.UnifiedRecord{
		ExternalID:  "csv_" + id,
		CanonicalID: &canonicalID,
		Title:       title,
		Description: &description,
		Data: map[string]any{
			"price":               price,
			"symbol":              symbol,
			"original_created_at": stringField(raw, "created_at"),
		},
	}, nil
}

func stringField(raw etl.RawRecord, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
