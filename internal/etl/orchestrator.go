package etl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/identity"
	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/tracing"
	"github.com/google/uuid"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNotifier publishes a RunEvent after every run.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithExtractTimeout bounds a single Extract call. Zero disables the bound.
func WithExtractTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.extractTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs one extractor cycle at a time against a Store.
type Orchestrator struct {
	store          Store
	metrics        *metrics.Metrics
	notifier       Notifier
	extractTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewOrchestrator creates an Orchestrator over store.
func NewOrchestrator(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute performs one incremental cycle for ex.
//
// The run row is written before any work starts and finalized after the
// work's unit of work has committed or rolled back, so a failed run is
// always visible in the ledger while its partial data never is. The
// returned Result is non-nil whenever a run row was created, including on
// failure.
func (o *Orchestrator) Execute(ctx context.Context, ex Extractor, opts RunOptions) (*Result, error) {
	source := strings.TrimSpace(ex.Source())
	if source == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "extractor %T has no source name", ex)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	batchID := opts.BatchID
	if batchID == "" {
		batchID = runID
	}

	start := o.now()
	run := RunRecord{
		RunID:     runID,
		BatchID:   batchID,
		Source:    source,
		Status:    RunInProgress,
		StartedAt: start.UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run %s: %w", runID, err)
	}

	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx).With("component", "orchestrator", "source", source, "batch_id", batchID)
	log.Info("run started")

	ctx, span := tracing.StartSpan(ctx, "etl.run", runID)
	span.SetAttr("source", source)

	processed, checkpoint, runErr := o.work(ctx, ex, source, runID)

	duration := o.now().Sub(start)
	ended := o.now().UTC()
	run.EndedAt = &ended
	run.DurationMS = float64(duration.Microseconds()) / 1000
	if runErr != nil {
		run.Status = RunFailure
		run.ErrorMessage = runErr.Error()
		processed = 0
	} else {
		run.Status = RunSuccess
		run.RecordsProcessed = processed
	}

	// The caller's context may already be cancelled; the ledger must still
	// learn how the run ended.
	finalizeCtx := context.WithoutCancel(ctx)
	if err := o.store.FinishRun(finalizeCtx, run); err != nil {
		log.Error("failed to finalize run", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("finalizing run: %w", err)
		}
	}

	span.SetAttr("records", processed)
	span.EndWithError(runErr)
	span.Log(log)

	o.observe(source, run, checkpoint, duration, span.Phases())
	o.notify(finalizeCtx, log, run)

	result := &Result{
		RunID:            runID,
		BatchID:          batchID,
		Source:           source,
		Status:           run.Status,
		RecordsProcessed: processed,
		Checkpoint:       checkpoint,
		Duration:         duration,
	}
	if runErr != nil {
		log.Error("run failed", "error", runErr, "duration_ms", run.DurationMS)
		return result, fmt.Errorf("run %s (%s): %w", runID, source, runErr)
	}
	log.Info("run finished", "records", processed, "duration_ms", run.DurationMS)
	return result, nil
}

// work runs extract, transform and load in a single unit of work and returns
// the number of records loaded and the resulting checkpoint.
func (o *Orchestrator) work(ctx context.Context, ex Extractor, source, runID string) (int, *time.Time, error) {
	var (
		processed  int
		checkpoint *time.Time
	)
	err := o.store.InTx(ctx, func(tx Tx) error {
		processed = 0
		since, err := tx.GetCheckpoint(ctx, source)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, fmt.Errorf("loading checkpoint: %w", err))
		}
		checkpoint = since

		extractCtx, extractSpan := tracing.StartChildSpan(ctx, "extract")
		var records []RawRecord
		err = resilience.WithTimeout(extractCtx, o.extractTimeout, "extract "+source, func(ctx context.Context) error {
			var err error
			records, err = ex.Extract(ctx, since)
			return err
		})
		extractSpan.SetAttr("records", len(records))
		extractSpan.EndWithError(err)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrExtraction, err)
		}

		loadCtx, loadSpan := tracing.StartChildSpan(ctx, "load")
		defer loadSpan.End()
		resolver := identity.NewResolver(tx)
		var maxTS *time.Time
		for i, raw := range records {
			if err := loadCtx.Err(); err != nil {
				return err
			}
			externalID := rawExternalID(raw)
			if _, err := tx.InsertRaw(loadCtx, source, externalID, raw); err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, fmt.Errorf("storing raw record %d: %w", i, err))
			}
			unified, err := ex.Transform(loadCtx, raw, resolver)
			if err != nil {
				return fmt.Errorf("transforming record %d (%s): %w", i, externalID, err)
			}
			unified.Source = source
			if unified.ExternalID == "" {
				unified.ExternalID = externalID
			}
			if err := normalizeUnified(&unified); err != nil {
				return fmt.Errorf("invalid record %d (%s): %w", i, externalID, err)
			}
			if err := tx.UpsertUnified(loadCtx, unified); err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, fmt.Errorf("upserting record %s: %w", unified.ExternalID, err))
			}
			processed++

			ts, found, err := RecordTimestamp(raw)
			if err != nil {
				o.logger.Debug("ignoring unparseable timestamp", "source", source, "external_id", externalID, "error", err)
				if o.metrics != nil {
					o.metrics.TimestampParseFailures.WithLabelValues(source).Inc()
				}
				continue
			}
			if found && (maxTS == nil || ts.After(*maxTS)) {
				t := ts
				maxTS = &t
			}
		}
		loadSpan.SetAttr("records", processed)

		if maxTS != nil {
			if err := tx.AdvanceCheckpoint(loadCtx, source, *maxTS, runID); err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, fmt.Errorf("advancing checkpoint: %w", err))
			}
			if checkpoint == nil || maxTS.After(*checkpoint) {
				checkpoint = maxTS
			}
		}
		return nil
	})
	return processed, checkpoint, err
}

func (o *Orchestrator) observe(source string, run RunRecord, checkpoint *time.Time, d time.Duration, phases map[string]time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunsTotal.WithLabelValues(source, string(run.Status)).Inc()
	o.metrics.RunDuration.WithLabelValues(source).Observe(d.Seconds())
	for phase, pd := range phases {
		o.metrics.PhaseDuration.WithLabelValues(source, phase).Observe(pd.Seconds())
	}
	if run.Status == RunSuccess {
		o.metrics.RecordsProcessedTotal.WithLabelValues(source).Add(float64(run.RecordsProcessed))
		if checkpoint != nil {
			o.metrics.CheckpointTimestamp.WithLabelValues(source).Set(float64(checkpoint.Unix()))
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, log *slog.Logger, run RunRecord) {
	if o.notifier == nil {
		return
	}
	ev := RunEvent{
		RunID:            run.RunID,
		BatchID:          run.BatchID,
		Source:           run.Source,
		Status:           run.Status,
		RecordsProcessed: run.RecordsProcessed,
		DurationMS:       run.DurationMS,
		Error:            run.ErrorMessage,
	}
	if run.EndedAt != nil {
		ev.EndedAt = *run.EndedAt
	}
	if err := o.notifier.NotifyRun(ctx, ev); err != nil {
		log.Warn("failed to publish run event", "error", err)
	}
}

// rawExternalID picks the source-side identifier used to deduplicate raw
// records: the id field, then guid, then a fresh UUID.
func rawExternalID(raw RawRecord) string {
	for _, field := range []string{"id", "guid"} {
		v, ok := raw[field]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return uuid.NewString()
}
