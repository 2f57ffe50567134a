package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricepilot/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Products
// =============================================================================

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (
			id, fingerprint, name, brand, model, category, specs,
			image_url, mirrored_image_url, popularity_score, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (fingerprint) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), products.name),
			brand = COALESCE(NULLIF(EXCLUDED.brand, ''), products.brand),
			model = COALESCE(NULLIF(EXCLUDED.model, ''), products.model),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), products.category),
			specs = COALESCE(EXCLUDED.specs, products.specs),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), products.image_url),
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.ID, p.Fingerprint, p.Name, p.Brand, p.Model, p.Category, p.Specs,
		p.ImageURL, p.MirroredImageURL, p.PopularityScore, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) GetProductByFingerprint(ctx context.Context, fingerprint string) (*models.Product, error) {
	return s.getProduct(ctx, "fingerprint = $1", fingerprint)
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return s.getProduct(ctx, "id = $1", id)
}

func (s *PostgresStore) getProduct(ctx context.Context, where string, arg interface{}) (*models.Product, error) {
	query := `
		SELECT id, fingerprint, name, brand, model, category, specs,
			COALESCE(image_url, ''), COALESCE(mirrored_image_url, ''),
			popularity_score, created_at, updated_at
		FROM products WHERE ` + where

	var p models.Product
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.Fingerprint, &p.Name, &p.Brand, &p.Model, &p.Category, &p.Specs,
		&p.ImageURL, &p.MirroredImageURL, &p.PopularityScore, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListMatchCandidates returns the slim product view the matcher scores
// against at run start.
func (s *PostgresStore) ListMatchCandidates(ctx context.Context) ([]models.MatchCandidate, error) {
	query := `SELECT id, name, brand, model FROM products`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []models.MatchCandidate
	for rows.Next() {
		var c models.MatchCandidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Brand, &c.Model); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *PostgresStore) IncrementPopularity(ctx context.Context, productID uuid.UUID) error {
	query := `UPDATE products SET popularity_score = popularity_score + 1, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, productID)
	return err
}

func (s *PostgresStore) SetMirroredImageURL(ctx context.Context, productID uuid.UUID, url string) error {
	query := `UPDATE products SET mirrored_image_url = $2, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, productID, url)
	return err
}

// =============================================================================
// Prices
// =============================================================================

// UpsertPrice keeps one live row per (product, vendor), last writer wins by
// captured_at. When the live row actually changes price or stock, the old
// values are archived to price_history inside the same transaction.
func (s *PostgresStore) UpsertPrice(ctx context.Context, r *models.PriceRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var prev struct {
		price      models.Cents
		stock      models.StockStatus
		capturedAt time.Time
	}
	err = tx.QueryRow(ctx,
		`SELECT price_cents, stock_status, captured_at FROM prices WHERE product_id = $1 AND vendor = $2`,
		r.ProductID, r.Vendor,
	).Scan(&prev.price, &prev.stock, &prev.capturedAt)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}
	hadPrev := err == nil

	if hadPrev && !prev.capturedAt.After(r.CapturedAt) && (prev.price != r.Price || prev.stock != r.Stock) {
		_, err = tx.Exec(ctx, `
			INSERT INTO price_history (product_id, vendor, price_cents, stock_status, captured_at)
			VALUES ($1, $2, $3, $4, $5)`,
			r.ProductID, r.Vendor, prev.price, prev.stock, prev.capturedAt,
		)
		if err != nil {
			return err
		}
	}

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	query := `
		INSERT INTO prices (
			id, product_id, vendor, price_cents, original_price_cents, discount,
			stock_status, product_url, captured_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, NOW()
		)
		ON CONFLICT (product_id, vendor) DO UPDATE SET
			price_cents = EXCLUDED.price_cents,
			original_price_cents = EXCLUDED.original_price_cents,
			discount = EXCLUDED.discount,
			stock_status = EXCLUDED.stock_status,
			product_url = EXCLUDED.product_url,
			captured_at = EXCLUDED.captured_at
		WHERE prices.captured_at <= EXCLUDED.captured_at`

	_, err = tx.Exec(ctx, query,
		r.ID, r.ProductID, r.Vendor, r.Price, r.OriginalPrice, r.Discount,
		r.Stock, r.URL, r.CapturedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetVendorPrices returns the live rows for one product, cheapest first.
func (s *PostgresStore) GetVendorPrices(ctx context.Context, productID uuid.UUID) ([]models.PriceRecord, error) {
	query := `
		SELECT id, product_id, vendor, price_cents, original_price_cents, discount,
			stock_status, product_url, captured_at, created_at
		FROM prices WHERE product_id = $1
		ORDER BY price_cents ASC`

	rows, err := s.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.PriceRecord
	for rows.Next() {
		var r models.PriceRecord
		if err := rows.Scan(
			&r.ID, &r.ProductID, &r.Vendor, &r.Price, &r.OriginalPrice, &r.Discount,
			&r.Stock, &r.URL, &r.CapturedAt, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetPriceHistory returns archived price points for one (product, vendor)
// pair, newest first.
func (s *PostgresStore) GetPriceHistory(ctx context.Context, productID uuid.UUID, vendor string, limit int) ([]models.PriceHistory, error) {
	query := `
		SELECT id, product_id, vendor, price_cents, stock_status, captured_at
		FROM price_history
		WHERE product_id = $1 AND vendor = $2
		ORDER BY captured_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, productID, vendor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.PriceHistory
	for rows.Next() {
		var h models.PriceHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Vendor, &h.Price, &h.Stock, &h.CapturedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// GetBestDeal picks the lowest sellable live price for a product, or nil when
// no vendor has stock.
func (s *PostgresStore) GetBestDeal(ctx context.Context, productID uuid.UUID) (*models.PriceRecord, error) {
	records, err := s.GetVendorPrices(ctx, productID)
	if err != nil {
		return nil, err
	}
	return models.BestDeal(records), nil
}

// =============================================================================
// Runs
// =============================================================================

func (s *PostgresStore) RecordRun(ctx context.Context, run *models.VendorRun) error {
	query := `
		INSERT INTO vendor_runs (
			id, vendor, status, listings_scraped, errors_count, skipped_count,
			error_details, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			listings_scraped = EXCLUDED.listings_scraped,
			errors_count = EXCLUDED.errors_count,
			skipped_count = EXCLUDED.skipped_count,
			error_details = EXCLUDED.error_details,
			finished_at = EXCLUDED.finished_at`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Vendor, run.Status, run.ListingsScraped, run.ErrorsCount, run.SkippedCount,
		run.ErrorsJSON(), run.StartedAt, run.FinishedAt,
	)
	return err
}

// =============================================================================
// Product images
// =============================================================================

func (s *PostgresStore) UpsertImage(ctx context.Context, img *models.ProductImage) error {
	query := `
		INSERT INTO product_images (
			id, product_id, original_url, s3_key, content_hash, status, attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (original_url) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		img.ID, img.ProductID, img.OriginalURL, img.S3Key, img.ContentHash,
		img.Status, img.Attempts, img.CreatedAt, img.UpdatedAt,
	).Scan(&img.ID)
}

func (s *PostgresStore) GetImageByOriginalURL(ctx context.Context, originalURL string) (*models.ProductImage, error) {
	query := `
		SELECT id, product_id, original_url, s3_key, COALESCE(content_hash, ''), status, attempts, created_at, updated_at
		FROM product_images WHERE original_url = $1`

	var img models.ProductImage
	err := s.pool.QueryRow(ctx, query, originalURL).Scan(
		&img.ID, &img.ProductID, &img.OriginalURL, &img.S3Key, &img.ContentHash,
		&img.Status, &img.Attempts, &img.CreatedAt, &img.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *PostgresStore) GetPendingImages(ctx context.Context, limit int) ([]models.ProductImage, error) {
	query := `
		SELECT id, product_id, original_url, s3_key, COALESCE(content_hash, ''), status, attempts, created_at, updated_at
		FROM product_images
		WHERE status = 'pending' AND attempts < 3
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.ProductImage
	for rows.Next() {
		var img models.ProductImage
		if err := rows.Scan(
			&img.ID, &img.ProductID, &img.OriginalURL, &img.S3Key, &img.ContentHash,
			&img.Status, &img.Attempts, &img.CreatedAt, &img.UpdatedAt,
		); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) UpdateImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus, s3Key *string, contentHash string, attempts int) error {
	query := `
		UPDATE product_images
		SET status = $2, s3_key = COALESCE($3, s3_key), content_hash = COALESCE(NULLIF($4, ''), content_hash),
			attempts = $5, updated_at = NOW()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, id, status, s3Key, contentHash, attempts)
	return err
}
