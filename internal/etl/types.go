// Package etl is the incremental ingestion engine: it drives an Extractor
// through extract, transform and load inside one unit of work, advances the
// per-source checkpoint and records every attempt in the run ledger.
package etl

import (
	"time"
)

// RawRecord is one source record exactly as the extractor produced it.
type RawRecord map[string]any

// UnifiedRecord is the normalized, cross-source shape of a record. Its natural
// key is (Source, ExternalID).
type UnifiedRecord struct {
	ID          int64          `json:"id"`
	Source      string         `json:"source"`
	ExternalID  string         `json:"external_id"`
	CanonicalID *int64         `json:"canonical_id,omitempty"`
	Title       string         `json:"title"`
	Description *string        `json:"description,omitempty"`
	Data        map[string]any `json:"data"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RunStatus is the lifecycle state of a RunRecord.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunFailure    RunStatus = "failure"
)

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID               int64      `json:"id"`
	RunID            string     `json:"run_id"`
	BatchID          string     `json:"batch_id"`
	Source           string     `json:"source"`
	Status           RunStatus  `json:"status"`
	RecordsProcessed int        `json:"records_processed"`
	DurationMS       float64    `json:"duration_ms"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// Checkpoint is the per-source high-water mark.
type Checkpoint struct {
	Source          string     `json:"source"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RunOptions carries caller-supplied identifiers for one run. Both fields
// are optional.
type RunOptions struct {
	RunID   string
	BatchID string
}

// Result summarises a finished run.
type Result struct {
	RunID            string
	BatchID          string
	Source           string
	Status           RunStatus
	RecordsProcessed int
	Checkpoint       *time.Time
	Duration         time.Duration
}
