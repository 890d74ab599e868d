package etl

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
)

const (
	maxTitleLength      = 1024
	maxExternalIDLength = 255
)

// ValidationError holds per-field validation failure messages for one
// transformed record.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// normalizeUnified trims and bounds rec in place. A blank title falls back to
// the external id; an over-long title is cut at a rune boundary. Records
// that cannot be keyed are rejected.
func normalizeUnified(rec *UnifiedRecord) error {
	errs := make(map[string]string)

	rec.ExternalID = strings.TrimSpace(rec.ExternalID)
	switch {
	case rec.ExternalID == "":
		errs["external_id"] = "external id is required"
	case len(rec.ExternalID) > maxExternalIDLength:
		errs["external_id"] = fmt.Sprintf("external id must be at most %d bytes", maxExternalIDLength)
	}
	if strings.TrimSpace(rec.Source) == "" {
		errs["source"] = "source is required"
	}

	rec.Title = strings.TrimSpace(rec.Title)
	if rec.Title == "" {
		rec.Title = rec.ExternalID
	}
	rec.Title = truncate(rec.Title, maxTitleLength)

	if rec.Description != nil {
		d := strings.TrimSpace(*rec.Description)
		if d == "" {
			rec.Description = nil
		} else {
			rec.Description = &d
		}
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
