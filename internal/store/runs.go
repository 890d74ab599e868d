package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
)

const runColumns = `id, run_id, batch_id, source, status, records_processed,
	duration_ms, error_message, started_at, ended_at`

// CreateRun inserts an in-progress run row and commits it immediately.
func (s *Store) CreateRun(ctx context.Context, run etl.RunRecord) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO etl_runs (run_id, batch_id, source, status, records_processed, started_at)
		 VALUES ($1, $2, $3, $4, 0, $5)`,
		run.RunID, run.BatchID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (s *Store) FinishRun(ctx context.Context, run etl.RunRecord) error {
	var errMsg sql.NullString
	if run.ErrorMessage != "" {
		errMsg = sql.NullString{String: run.ErrorMessage, Valid: true}
	}
	ended := time.Now().UTC()
	if run.EndedAt != nil {
		ended = *run.EndedAt
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE etl_runs
		 SET status = $2, records_processed = $3, duration_ms = $4,
		     error_message = $5, ended_at = $6
		 WHERE run_id = $1`,
		run.RunID, string(run.Status), run.RecordsProcessed, run.DurationMS, errMsg, ended,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %s: %w", run.RunID, apperrors.ErrNotFound)
	}
	return nil
}

// GetRun loads a run by its run id.
func (s *Store) GetRun(ctx context.Context, runID string) (*etl.RunRecord, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM etl_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, optionally limited to
// one source.
func (s *Store) ListRuns(ctx context.Context, source string, limit int) ([]etl.RunRecord, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM etl_runs
		 WHERE ($1 = '' OR source = $1)
		 ORDER BY started_at DESC, id DESC
		 LIMIT $2`,
		source, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// LatestRunPerSource returns the most recently started run of every source.
func (s *Store) LatestRunPerSource(ctx context.Context) ([]etl.RunRecord, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT DISTINCT ON (source) `+runColumns+` FROM etl_runs
		 ORDER BY source, started_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// LastSuccessAt returns the end time of the most recent successful run, or
// nil when no run has succeeded yet.
func (s *Store) LastSuccessAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT MAX(ended_at) FROM etl_runs WHERE status = 'success'`,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("querying last success: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()
	return &t, nil
}

// BatchSummary aggregates the ledger by batch.
type BatchSummary struct {
	TotalBatches      int        `json:"total_runs"`
	SuccessfulBatches int        `json:"success_runs"`
	LastRunEndedAt    *time.Time `json:"last_etl_run,omitempty"`
}

// SummarizeBatches counts batches, the batches in which no run failed, and
// the most recent run end time.
func (s *Store) SummarizeBatches(ctx context.Context) (BatchSummary, error) {
	var (
		sum     BatchSummary
		lastEnd sql.NullTime
	)
	err := s.db.DB.QueryRowContext(ctx,
		`WITH batches AS (
		     SELECT batch_id, BOOL_OR(status = 'failure') AS failed, MAX(ended_at) AS ended_at
		     FROM etl_runs GROUP BY batch_id
		 )
		 SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT failed), MAX(ended_at) FROM batches`,
	).Scan(&sum.TotalBatches, &sum.SuccessfulBatches, &lastEnd)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("summarizing batches: %w", err)
	}
	if lastEnd.Valid {
		t := lastEnd.Time.UTC()
		sum.LastRunEndedAt = &t
	}
	return sum, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*etl.RunRecord, error) {
	var (
		run      etl.RunRecord
		status   string
		duration sql.NullFloat64
		errMsg   sql.NullString
		ended    sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.RunID, &run.BatchID, &run.Source, &status,
		&run.RecordsProcessed, &duration, &errMsg, &run.StartedAt, &ended); err != nil {
		return nil, err
	}
	run.Status = etl.RunStatus(status)
	run.DurationMS = duration.Float64
	run.ErrorMessage = errMsg.String
	run.StartedAt = run.StartedAt.UTC()
	if ended.Valid {
		t := ended.Time.UTC()
		run.EndedAt = &t
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]etl.RunRecord, error) {
	var runs []etl.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
