package etl

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SweepReport is the outcome of one sweep across several extractors.
type SweepReport struct {
	BatchID string
	Results []*Result
	Errors  map[string]error
}

// Failed reports whether any extractor in the sweep failed.
func (r *SweepReport) Failed() bool {
	return len(r.Errors) > 0
}

// Sweeper runs a fixed set of extractors one after another under a shared
// batch id. Sweeps on the same Sweeper never overlap.
type Sweeper struct {
	orchestrator *Orchestrator
	extractors   []Extractor
	mu           sync.Mutex
	logger       *slog.Logger
}

// NewSweeper creates a Sweeper for extractors, run in the given order.
func NewSweeper(o *Orchestrator, extractors ...Extractor) *Sweeper {
	return &Sweeper{
		orchestrator: o,
		extractors:   extractors,
		logger:       slog.Default().With("component", "sweeper"),
	}
}

// Sources returns the source names this Sweeper drives.
func (s *Sweeper) Sources() []string {
	out := make([]string, 0, len(s.extractors))
	for _, ex := range s.extractors {
		out = append(out, ex.Source())
	}
	return out
}

// Sweep runs every extractor whose source is in only, or all of them when
// only is empty. A failing extractor does not stop the sweep; the returned
// error joins every failure.
func (s *Sweeper) Sweep(ctx context.Context, only ...string) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter := make(map[string]bool, len(only))
	for _, src := range only {
		filter[src] = true
	}

	report := &SweepReport{
		BatchID: uuid.NewString(),
		Errors:  make(map[string]error),
	}
	log := s.logger.With("batch_id", report.BatchID)
	log.Info("sweep started", "extractors", len(s.extractors))

	var errs []error
	for _, ex := range s.extractors {
		if len(filter) > 0 && !filter[ex.Source()] {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.orchestrator.Execute(ctx, ex, RunOptions{BatchID: report.BatchID})
		if res != nil {
			report.Results = append(report.Results, res)
		}
		if err != nil {
			report.Errors[ex.Source()] = err
			errs = append(errs, err)
		}
	}

	log.Info("sweep finished", "runs", len(report.Results), "failures", len(report.Errors))
	return report, errors.Join(errs...)
}
