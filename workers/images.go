package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"pricepilot/models"
	"pricepilot/services"
)

// Uploader is the bucket surface the image worker needs. Satisfied by
// storage.S3Uploader.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

// ImageWorker drains the product image queue: download the vendor image,
// hash it, upload the copy, and point the product at the mirror.
type ImageWorker struct {
	images     *services.ImageService
	uploader   Uploader
	httpClient *http.Client
	userAgent  string
}

func NewImageWorker(images *services.ImageService, uploader Uploader, client *http.Client, userAgent string) *ImageWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ImageWorker{
		images:     images,
		uploader:   uploader,
		httpClient: client,
		userAgent:  userAgent,
	}
}

type imageResult struct {
	s3Key       string
	contentHash string
	size        int64
	err         error
}

func (w *ImageWorker) process(ctx context.Context, img *models.ProductImage) imageResult {
	req, err := http.NewRequestWithContext(ctx, "GET", img.OriginalURL, nil)
	if err != nil {
		return imageResult{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", w.userAgent)
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return imageResult{err: fmt.Errorf("download: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return imageResult{err: fmt.Errorf("download status: %d", resp.StatusCode)}
	}

	// 20MB cap; product shots are far smaller in practice.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return imageResult{err: fmt.Errorf("read body: %w", err)}
	}

	hash := sha256.Sum256(data)
	result := imageResult{
		contentHash: hex.EncodeToString(hash[:]),
		size:        int64(len(data)),
	}

	ext := guessExtension(img.OriginalURL, resp.Header.Get("Content-Type"))
	result.s3Key = fmt.Sprintf("products/%s/%s%s", result.contentHash[:2], result.contentHash, ext)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := w.uploader.Upload(ctx, result.s3Key, bytes.NewReader(data), contentType); err != nil {
		return imageResult{err: fmt.Errorf("upload: %w", err)}
	}

	return result
}

func guessExtension(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if idx := strings.IndexAny(ext, "?#"); idx >= 0 {
		ext = ext[:idx]
	}
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// Run starts the worker loop.
func (w *ImageWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Image worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *ImageWorker) processBatch(ctx context.Context, batchSize int) {
	pending, err := w.images.GetPending(ctx, batchSize)
	if err != nil {
		log.Printf("Image worker: query error: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Printf("Image worker: processing %d items", len(pending))

	var mirrored, failed int
	for i := range pending {
		img := &pending[i]

		result := w.process(ctx, img)
		if result.err != nil {
			log.Printf("Image worker: failed %s: %v", img.OriginalURL, result.err)
			failed++
			if err := w.images.MarkFailed(ctx, img); err != nil {
				log.Printf("Image worker: failed to update %s: %v", img.ID, err)
			}
			continue
		}

		publicURL := w.uploader.PublicURL(result.s3Key)
		if err := w.images.MarkMirrored(ctx, img, result.s3Key, result.contentHash, publicURL); err != nil {
			log.Printf("Image worker: failed to update %s: %v", img.ID, err)
			failed++
			continue
		}

		mirrored++
		log.Printf("Image worker: mirrored %s -> %s (%d bytes)", img.ID, result.s3Key, result.size)

		// Be polite to vendor CDNs.
		time.Sleep(200 * time.Millisecond)
	}

	if mirrored > 0 || failed > 0 {
		log.Printf("Image worker: mirrored %d, failed %d", mirrored, failed)
	}
}

// NoOpUploader skips the actual upload; useful before S3 is configured.
type NoOpUploader struct{}

func NewNoOpUploader() *NoOpUploader { return &NoOpUploader{} }

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	io.Copy(io.Discard, data)
	return nil
}

func (u *NoOpUploader) PublicURL(key string) string { return "" }
