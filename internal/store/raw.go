package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
)

// InsertRaw stores a raw record unless one with the same natural key
// already exists. Raw records are never overwritten.
func (t *Tx) InsertRaw(ctx context.Context, source, externalID string, raw etl.RawRecord) (bool, error) {
	content, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("marshaling raw record %s: %w", externalID, err)
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO raw_records (source, external_id, content)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (source, external_id) DO NOTHING`,
		source, externalID, content,
	)
	if err != nil {
		return false, fmt.Errorf("inserting raw record %s: %w", externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting raw record %s: %w", externalID, err)
	}
	return n > 0, nil
}

// CountRaw returns the number of raw records for source, or for every
// source when source is empty.
func (s *Store) CountRaw(ctx context.Context, source string) (int, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_records WHERE ($1 = '' OR source = $1)`, source,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting raw records: %w", err)
	}
	return n, nil
}
