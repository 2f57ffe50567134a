package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the canonical, vendor-independent entity price rows attach to.
type Product struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	Fingerprint      string            `json:"fingerprint" db:"fingerprint"`
	Name             string            `json:"name" db:"name"`
	Brand            string            `json:"brand" db:"brand"`
	Model            string            `json:"model" db:"model"`
	Category         string            `json:"category" db:"category"`
	Specs            map[string]string `json:"specs,omitempty" db:"specs"`
	ImageURL         string            `json:"image_url,omitempty" db:"image_url"`
	MirroredImageURL string            `json:"mirrored_image_url,omitempty" db:"mirrored_image_url"`
	PopularityScore  int               `json:"popularity_score" db:"popularity_score"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// MatchCandidate is the slim product view the matcher scores against. The
// pool is re-read from storage at the start of every run.
type MatchCandidate struct {
	ID    uuid.UUID
	Name  string
	Brand string
	Model string
}

// MatchResult classifies one scraped record against the candidate pool.
// Exactly one of Matched / Ambiguous / neither holds: neither means the
// record is a new-product candidate.
type MatchResult struct {
	Matched   bool
	Ambiguous bool
	ProductID uuid.UUID
	Score     float64
}
