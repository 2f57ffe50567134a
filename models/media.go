package models

import (
	"time"

	"github.com/google/uuid"
)

type ImageStatus string

const (
	ImageStatusPending  ImageStatus = "pending"
	ImageStatusMirrored ImageStatus = "mirrored"
	ImageStatusFailed   ImageStatus = "failed"
)

// ProductImage is one mirror job: an upstream vendor image URL queued for
// download and re-upload to our own bucket. Deduped by OriginalURL.
type ProductImage struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	ProductID   uuid.UUID   `json:"product_id" db:"product_id"`
	OriginalURL string      `json:"original_url" db:"original_url"`
	S3Key       *string     `json:"s3_key,omitempty" db:"s3_key"`
	ContentHash string      `json:"content_hash,omitempty" db:"content_hash"`
	Status      ImageStatus `json:"status" db:"status"`
	Attempts    int         `json:"attempts" db:"attempts"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}
