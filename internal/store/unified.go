package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
)

// UpsertUnified inserts or overwrites the unified record for
// (rec.Source, rec.ExternalID). created_at is kept from the first insert.
func (t *Tx) UpsertUnified(ctx context.Context, rec etl.UnifiedRecord) error {
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling unified payload %s: %w", rec.ExternalID, err)
	}
	var (
		canonical   sql.NullInt64
		description sql.NullString
	)
	if rec.CanonicalID != nil {
		canonical = sql.NullInt64{Int64: *rec.CanonicalID, Valid: true}
	}
	if rec.Description != nil {
		description = sql.NullString{String: *rec.Description, Valid: true}
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO unified_records (source, external_id, canonical_id, title, description, data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source, external_id) DO UPDATE SET
		     canonical_id = EXCLUDED.canonical_id,
		     title = EXCLUDED.title,
		     description = EXCLUDED.description,
		     data = EXCLUDED.data,
		     updated_at = NOW()`,
		rec.Source, rec.ExternalID, canonical, rec.Title, description, payload,
	)
	if err != nil {
		return fmt.Errorf("upserting unified record %s/%s: %w", rec.Source, rec.ExternalID, err)
	}
	return nil
}

// UnifiedQuery filters and pages ListUnified.
type UnifiedQuery struct {
	Skip   int
	Limit  int
	Source string
	// Search is matched case-insensitively against title and description.
	Search string
}

// ListUnified returns one page of unified records, newest first, and the
// total number of records matching the filter.
func (s *Store) ListUnified(ctx context.Context, q UnifiedQuery) ([]etl.UnifiedRecord, int, error) {
	where, args := unifiedFilter(q)

	var total int
	if err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM unified_records`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting unified records: %w", err)
	}

	args = append(args, q.Limit, q.Skip)
	rows, err := s.db.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, source, external_id, canonical_id, title, description, data, created_at, updated_at
		 FROM unified_records%s
		 ORDER BY created_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing unified records: %w", err)
	}
	defer rows.Close()

	records := make([]etl.UnifiedRecord, 0, q.Limit)
	for rows.Next() {
		var (
			rec         etl.UnifiedRecord
			canonical   sql.NullInt64
			description sql.NullString
			payload     []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.ExternalID, &canonical, &rec.Title,
			&description, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning unified record: %w", err)
		}
		if canonical.Valid {
			id := canonical.Int64
			rec.CanonicalID = &id
		}
		if description.Valid {
			d := description.String
			rec.Description = &d
		}
		if err := json.Unmarshal(payload, &rec.Data); err != nil {
			s.logger.Warn("skipping corrupt payload", "id", rec.ID, "error", err)
			rec.Data = map[string]any{}
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func unifiedFilter(q UnifiedQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q.Source != "" {
		args = append(args, q.Source)
		clauses = append(clauses, fmt.Sprintf("source = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, "%"+escapeLike(q.Search)+"%")
		clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
