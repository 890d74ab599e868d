package etl

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/identity"
)

// Store is the persistence the orchestrator drives. Run-ledger writes are
// independent statements; everything else happens inside InTx.
type Store interface {
	CreateRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one unit of work. Nothing written through it is visible to other
// units until InTx's callback returns nil.
type Tx interface {
	identity.Repository

	GetCheckpoint(ctx context.Context, source string) (*time.Time, error)
	// AdvanceCheckpoint moves the checkpoint to max(current, ts).
	AdvanceCheckpoint(ctx context.Context, source string, ts time.Time, runID string) error
	// InsertRaw stores raw unless (source, externalID) already exists, and
	// reports whether a row was written.
	InsertRaw(ctx context.Context, source, externalID string, raw RawRecord) (bool, error)
	UpsertUnified(ctx context.Context, rec UnifiedRecord) error
}
