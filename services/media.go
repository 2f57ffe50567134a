package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pricepilot/models"
	"pricepilot/storage"
)

// ImageService queues vendor product images for mirroring to our own bucket,
// so the catalog never hotlinks a vendor CDN.
type ImageService struct {
	store *storage.PostgresStore
}

func NewImageService(store *storage.PostgresStore) *ImageService {
	return &ImageService{store: store}
}

// Enqueue creates a pending mirror job, deduped by original URL.
// Returns the image ID (existing or new).
func (s *ImageService) Enqueue(ctx context.Context, productID uuid.UUID, originalURL string) (uuid.UUID, error) {
	existing, err := s.store.GetImageByOriginalURL(ctx, originalURL)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	img := &models.ProductImage{
		ID:          uuid.New(),
		ProductID:   productID,
		OriginalURL: originalURL,
		Status:      models.ImageStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.store.UpsertImage(ctx, img); err != nil {
		return uuid.Nil, err
	}

	return img.ID, nil
}

// GetPending returns pending mirror jobs for the worker.
func (s *ImageService) GetPending(ctx context.Context, limit int) ([]models.ProductImage, error) {
	return s.store.GetPendingImages(ctx, limit)
}

// MarkMirrored records a successful upload and points the product at the
// mirrored copy.
func (s *ImageService) MarkMirrored(ctx context.Context, img *models.ProductImage, s3Key, contentHash, publicURL string) error {
	if err := s.store.UpdateImageStatus(ctx, img.ID, models.ImageStatusMirrored, &s3Key, contentHash, img.Attempts); err != nil {
		return err
	}
	return s.store.SetMirroredImageURL(ctx, img.ProductID, publicURL)
}

// MarkFailed bumps attempts, giving up for good after three.
func (s *ImageService) MarkFailed(ctx context.Context, img *models.ProductImage) error {
	attempts := img.Attempts + 1
	status := models.ImageStatusPending
	if attempts >= 3 {
		status = models.ImageStatusFailed
	}
	return s.store.UpdateImageStatus(ctx, img.ID, status, nil, "", attempts)
}
