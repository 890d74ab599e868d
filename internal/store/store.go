// Package store persists the ingestion engine's state in PostgreSQL: the
// run ledger, per-source checkpoints, raw and unified records and the
// identity tables. Store implements etl.Store.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/postgres"
)

//go:embed schema.sql
var schema string

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the PostgreSQL-backed persistence layer.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Store over db.
func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "etl-store"),
	}
}

// EnsureSchema creates any missing tables and indexes. It is safe to call
// on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.logger.Info("schema ensured")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx runs fn inside one database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx etl.Tx) error) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(&Tx{q: tx})
	})
}

// GetCheckpoint reads a checkpoint outside any transaction.
func (s *Store) GetCheckpoint(ctx context.Context, source string) (*etl.Checkpoint, error) {
	return getCheckpointRow(ctx, s.db.DB, source)
}

// Tx is the transactional view handed to the orchestrator.
type Tx struct {
	q queryer
}

var _ etl.Tx = (*Tx)(nil)
var _ etl.Store = (*Store)(nil)
