// Package handler implements the query API's HTTP endpoints: paged reads of
// unified records, run statistics, health, sweep triggers and manual CSV
// uploads.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/api/cache"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/etl"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/sources"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/internal/store"
	pkgerrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/logger"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/middleware"
	"github.com/google/uuid"
)

// TotalCountHeader carries the unpaged match count of GET /api/v1/data.
const TotalCountHeader = "X-Total-Count"

// Reader is the read side of the store the handlers query.
type Reader interface {
	ListUnified(ctx context.Context, q store.UnifiedQuery) ([]etl.UnifiedRecord, int, error)
	LatestRunPerSource(ctx context.Context) ([]etl.RunRecord, error)
	SummarizeBatches(ctx context.Context) (store.BatchSummary, error)
	Ping(ctx context.Context) error
}

// Runner executes one ingestion run. *etl.Orchestrator satisfies it.
type Runner interface {
	Execute(ctx context.Context, ex etl.Extractor, opts etl.RunOptions) (*etl.Result, error)
}

// Triggerer asks the ingestors for a sweep. *etl.TriggerPublisher satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context, ev etl.TriggerEvent) error
}

// Config holds handler limits.
type Config struct {
	DefaultLimit   int
	MaxLimit       int
	UploadDir      string
	MaxUploadBytes int64
}

// Handler serves the query API.
type Handler struct {
	cfg     Config
	reader  Reader
	cache   *cache.QueryCache
	runner  Runner
	trigger Triggerer
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Handler. qc, runner and trigger may be nil: reads then go
// straight to the store, and upload or trigger answer 503.
func New(cfg Config, reader Reader, qc *cache.QueryCache, runner Runner, trigger Triggerer) *Handler {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "temp_uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	return &Handler{
		cfg:     cfg,
		reader:  reader,
		cache:   qc,
		runner:  runner,
		trigger: trigger,
		now:     time.Now,
		logger:  slog.Default().With("component", "api-handler"),
	}
}

// ---------- Data ----------

// Data lists unified records newest first. Query parameters: skip, limit,
// source and search (case-insensitive match on title or description).
func (h *Handler) Data(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	compute := func() (*cache.Page, error) {
		recs, total, err := h.reader.ListUnified(r.Context(), q)
		if err != nil {
			return nil, err
		}
		return &cache.Page{Records: recs, Total: total}, nil
	}

	var (
		page *cache.Page
		hit  bool
	)
	if h.cache != nil {
		page, hit, err = h.cache.GetOrCompute(r.Context(), q, compute)
	} else {
		page, err = compute()
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("listing unified records failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	records := page.Records
	if records == nil {
		records = []etl.UnifiedRecord{}
	}
	w.Header().Set(TotalCountHeader, strconv.Itoa(page.Total))
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) parseQuery(r *http.Request) (store.UnifiedQuery, error) {
	v := r.URL.Query()
	q := store.UnifiedQuery{
		Limit:  h.cfg.DefaultLimit,
		Source: strings.TrimSpace(v.Get("source")),
		Search: strings.TrimSpace(v.Get("search")),
	}
	if s := v.Get("skip"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, pkgerrors.New(pkgerrors.ErrInvalidInput, http.StatusBadRequest, "skip must be a non-negative integer")
		}
		q.Skip = n
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, pkgerrors.New(pkgerrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
		}
		q.Limit = min(n, h.cfg.MaxLimit)
	}
	return q, nil
}

// ---------- Stats ----------

// SourceStats is the latest run of one source.
type SourceStats struct {
	Source           string        `json:"source"`
	RecordsProcessed int           `json:"records_processed"`
	Status           etl.RunStatus `json:"status"`
	DurationMS       float64       `json:"duration_ms"`
	LastRunAt        *time.Time    `json:"last_run_at"`
	ErrorMessage     *string       `json:"error_message"`
}

// Stats returns the latest run of every source.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	runs, err := h.reader.LatestRunPerSource(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("loading run stats failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	out := make([]SourceStats, 0, len(runs))
	for _, run := range runs {
		s := SourceStats{
			Source:           run.Source,
			RecordsProcessed: run.RecordsProcessed,
			Status:           run.Status,
			DurationMS:       run.DurationMS,
			LastRunAt:        run.EndedAt,
		}
		if run.ErrorMessage != "" {
			msg := run.ErrorMessage
			s.ErrorMessage = &msg
		}
		out = append(out, s)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ---------- Health ----------

// HealthStatus summarises database reachability and the run ledger.
type HealthStatus struct {
	DBConnected bool       `json:"db_connected"`
	LastETLRun  *time.Time `json:"last_etl_run"`
	TotalRuns   int        `json:"total_runs"`
	SuccessRuns int        `json:"success_runs"`
	Status      string     `json:"status"`
}

// Health always answers 200; an unreachable database shows up as
// status "degraded".
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	status := HealthStatus{Status: "healthy", DBConnected: true}

	if err := h.reader.Ping(r.Context()); err != nil {
		log.Warn("database ping failed", "error", err)
		status.DBConnected = false
		status.Status = "degraded"
		h.writeJSON(w, http.StatusOK, status)
		return
	}

	sum, err := h.reader.SummarizeBatches(r.Context())
	if err != nil {
		log.Error("summarizing runs failed", "error", err)
		status.Status = "degraded"
	} else {
		status.LastETLRun = sum.LastRunEndedAt
		status.TotalRuns = sum.TotalBatches
		status.SuccessRuns = sum.SuccessfulBatches
	}
	h.writeJSON(w, http.StatusOK, status)
}

// ---------- Trigger ----------

type triggerRequest struct {
	Sources []string `json:"sources"`
}

// Trigger publishes a sweep request. The optional JSON body
// {"sources": [...]} restricts the sweep.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		h.writeAppError(w, pkgerrors.New(pkgerrors.ErrUnavailable, http.StatusServiceUnavailable, "trigger publisher not configured"))
		return
	}

	var req triggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	requestID := pkgmw.GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ev := etl.TriggerEvent{
		RequestID:   requestID,
		Sources:     req.Sources,
		RequestedAt: h.now().UTC(),
	}
	if err := h.trigger.Trigger(r.Context(), ev); err != nil {
		logger.FromContext(r.Context()).Error("publishing trigger failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "triggered",
		"request_id": requestID,
	})
}

// ---------- Upload ----------

// UploadCSV runs a synchronous CSV ingestion over the multipart "file"
// field. The file is staged under the upload directory and removed once the
// run finishes.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		h.writeAppError(w, pkgerrors.New(pkgerrors.ErrUnavailable, http.StatusServiceUnavailable, "ingestion not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.HasSuffix(strings.ToLower(name), ".csv") {
		h.writeError(w, http.StatusBadRequest, "Only CSV files are allowed")
		return
	}

	path, err := h.stage(file, name)
	if err != nil {
		logger.FromContext(r.Context()).Error("staging upload failed", "file", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	defer os.Remove(path)

	runID := "manual_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	log := logger.FromContext(logger.WithRunID(r.Context(), runID))
	log.Info("running manual csv ingestion", "file", name)

	res, err := h.runner.Execute(r.Context(), sources.NewCSVExtractor(path), etl.RunOptions{RunID: runID, BatchID: runID})
	if err != nil {
		log.Error("manual csv ingestion failed", "error", err)
		h.writeAppError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			log.Warn("cache invalidation after upload failed", "error", err)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":            string(res.Status),
		"records_processed": res.RecordsProcessed,
		"run_id":            res.RunID,
	})
}

func (h *Handler) stage(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	path := filepath.Join(h.cfg.UploadDir, uuid.NewString()+"_"+name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing %s: %w", path, err)
	}
	return path, nil
}

// ---------- Cache ----------

// CacheStats reports query cache hit and miss counts.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeAppError(w, pkgerrors.New(pkgerrors.ErrUnavailable, http.StatusServiceUnavailable, "cache not configured"))
		return
	}
	hits, misses := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]int64{"hits": hits, "misses": misses})
}

// CacheInvalidate drops every cached query page.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeAppError(w, pkgerrors.New(pkgerrors.ErrUnavailable, http.StatusServiceUnavailable, "cache not configured"))
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// ---------- Helpers ----------

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"detail": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	h.writeError(w, pkgerrors.HTTPStatusCode(err), pkgerrors.Message(err))
}
