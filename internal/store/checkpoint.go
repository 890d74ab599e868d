package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
)

// GetCheckpoint returns the source's high-water mark, or nil when the
// source has never completed a run with timestamps.
func (t *Tx) GetCheckpoint(ctx context.Context, source string) (*time.Time, error) {
	cp, err := getCheckpointRow(ctx, t.q, source)
	if err != nil || cp == nil {
		return nil, err
	}
	return cp.LastProcessedAt, nil
}

// AdvanceCheckpoint upserts the checkpoint row. GREATEST keeps the stored
// timestamp from ever moving backwards.
func (t *Tx) AdvanceCheckpoint(ctx context.Context, source string, ts time.Time, runID string) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO etl_checkpoints (source, last_processed_at, last_run_id, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (source) DO UPDATE SET
		     last_processed_at = GREATEST(etl_checkpoints.last_processed_at, EXCLUDED.last_processed_at),
		     last_run_id = EXCLUDED.last_run_id,
		     updated_at = NOW()`,
		source, ts.UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("advancing checkpoint for %s: %w", source, err)
	}
	return nil
}

func getCheckpointRow(ctx context.Context, q queryer, source string) (*etl.Checkpoint, error) {
	var (
		cp        etl.Checkpoint
		processed sql.NullTime
		runID     sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT source, last_processed_at, last_run_id, updated_at
		 FROM etl_checkpoints WHERE source = $1`,
		source,
	).Scan(&cp.Source, &processed, &runID, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying checkpoint for %s: %w", source, err)
	}
	if processed.Valid {
		ts := processed.Time.UTC()
		cp.LastProcessedAt = &ts
	}
	cp.LastRunID = runID.String
	return &cp, nil
}
