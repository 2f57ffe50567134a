package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// RunError is one classified per-listing or per-query failure, kept for the
// run record's structured error details.
type RunError struct {
	Query   string `json:"query,omitempty"`
	URL     string `json:"url,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// VendorRun is the observability record for one vendor within an orchestrated
// run. Immutable once FinishedAt is set; never consulted by matching or
// normalization.
type VendorRun struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Vendor          string     `json:"vendor" db:"vendor"`
	Status          RunStatus  `json:"status" db:"status"`
	ListingsScraped int        `json:"listings_scraped" db:"listings_scraped"`
	ErrorsCount     int        `json:"errors_count" db:"errors_count"`
	SkippedCount    int        `json:"skipped_count" db:"skipped_count"`
	Errors          []RunError `json:"errors,omitempty" db:"error_details"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
}

func (r *VendorRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *VendorRun) ErrorsJSON() json.RawMessage {
	if len(r.Errors) == 0 {
		return json.RawMessage("[]")
	}
	data, err := json.Marshal(r.Errors)
	if err != nil {
		return json.RawMessage("[]")
	}
	return data
}
