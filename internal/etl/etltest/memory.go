// Package etltest provides an in-memory etl.Store for tests of code that
// drives the orchestrator.
package etltest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/identity"
)

type rawKey struct{ source, externalID string }

type state struct {
	checkpoints map[string]etl.Checkpoint
	raw         map[rawKey]etl.RawRecord
	unified     map[rawKey]etl.UnifiedRecord
	identity    *identity.MemoryRepository
	nextID      int64
}

func (s *state) clone() *state {
	c := &state{
		checkpoints: maps.Clone(s.checkpoints),
		raw:         maps.Clone(s.raw),
		unified:     maps.Clone(s.unified),
		identity:    s.identity.Clone(),
		nextID:      s.nextID,
	}
	return c
}

// Store is an etl.Store whose InTx works on a copy of the state and swaps
// it in only when the callback succeeds.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *state
	runs  []etl.RunRecord

	// FailFinish makes FinishRun return this error when set.
	FailFinish error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{state: &state{
		checkpoints: make(map[string]etl.Checkpoint),
		raw:         make(map[rawKey]etl.RawRecord),
		unified:     make(map[rawKey]etl.UnifiedRecord),
		identity:    identity.NewMemoryRepository(),
	}}
}

func (s *Store) CreateRun(_ context.Context, run etl.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.RunID == run.RunID {
			return fmt.Errorf("duplicate run id %s", run.RunID)
		}
	}
	run.ID = int64(len(s.runs) + 1)
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) FinishRun(_ context.Context, run etl.RunRecord) error {
	if s.FailFinish != nil {
		return s.FailFinish
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.runs {
		if r.RunID == run.RunID {
			run.ID = r.ID
			run.StartedAt = r.StartedAt
			s.runs[i] = run
			return nil
		}
	}
	return fmt.Errorf("run %s not found", run.RunID)
}

func (s *Store) InTx(ctx context.Context, fn func(tx etl.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	work := s.state.clone()
	s.mu.Unlock()

	if err := fn(&tx{Repository: work.identity, st: work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

// Runs returns the run ledger in creation order.
func (s *Store) Runs() []etl.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]etl.RunRecord(nil), s.runs...)
}

// Checkpoint returns the committed checkpoint for source.
func (s *Store) Checkpoint(source string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.state.checkpoints[source]
	if !ok {
		return nil
	}
	return cp.LastProcessedAt
}

// Unified returns committed unified records ordered by (source, external id).
func (s *Store) Unified() []etl.UnifiedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]etl.UnifiedRecord, 0, len(s.state.unified))
	for _, r := range s.state.unified {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// RawCount returns the number of committed raw records.
func (s *Store) RawCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.raw)
}

// Entities returns committed canonical entities keyed by symbol.
func (s *Store) Entities() map[string]identity.CanonicalEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.identity.Entities()
}

type tx struct {
	identity.Repository
	st *state
}

func (t *tx) GetCheckpoint(_ context.Context, source string) (*time.Time, error) {
	cp, ok := t.st.checkpoints[source]
	if !ok || cp.LastProcessedAt == nil {
		return nil, nil
	}
	ts := *cp.LastProcessedAt
	return &ts, nil
}

func (t *tx) AdvanceCheckpoint(_ context.Context, source string, ts time.Time, runID string) error {
	ts = ts.UTC()
	cp := t.st.checkpoints[source]
	if cp.LastProcessedAt == nil || ts.After(*cp.LastProcessedAt) {
		cp.LastProcessedAt = &ts
	}
	cp.Source = source
	cp.LastRunID = runID
	cp.UpdatedAt = time.Now().UTC()
	t.st.checkpoints[source] = cp
	return nil
}

func (t *tx) InsertRaw(_ context.Context, source, externalID string, raw etl.RawRecord) (bool, error) {
	k := rawKey{source, externalID}
	if _, ok := t.st.raw[k]; ok {
		return false, nil
	}
	t.st.raw[k] = maps.Clone(raw)
	return true, nil
}

func (t *tx) UpsertUnified(_ context.Context, rec etl.UnifiedRecord) error {
	k := rawKey{rec.Source, rec.ExternalID}
	now := time.Now().UTC()
	if prev, ok := t.st.unified[k]; ok {
		rec.ID = prev.ID
		rec.CreatedAt = prev.CreatedAt
	} else {
		t.st.nextID++
		rec.ID = t.st.nextID
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	t.st.unified[k] = rec
	return nil
}
