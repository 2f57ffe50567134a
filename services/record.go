package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pricepilot/identity"
	"pricepilot/models"
	"pricepilot/pricing"
)

// Gateway is the storage surface the record pipeline writes through.
type Gateway interface {
	GetProductByFingerprint(ctx context.Context, fingerprint string) (*models.Product, error)
	UpsertProduct(ctx context.Context, p *models.Product) error
	ListMatchCandidates(ctx context.Context) ([]models.MatchCandidate, error)
	UpsertPrice(ctx context.Context, r *models.PriceRecord) error
	IncrementPopularity(ctx context.Context, productID uuid.UUID) error
}

// ImageQueue enqueues vendor image URLs for mirroring. Optional.
type ImageQueue interface {
	Enqueue(ctx context.Context, productID uuid.UUID, originalURL string) (uuid.UUID, error)
}

// RecordService turns one scraped listing into durable rows: normalize the
// price, resolve it to an existing product or mint a new one, write the
// price. The matcher's candidate pool is loaded once per run and grows as
// new products are created, so two vendors selling the same new item inside
// one run converge on a single product.
type RecordService struct {
	gw      Gateway
	matcher *Matcher
	images  ImageQueue

	now func() time.Time

	mu   sync.Mutex
	pool []models.MatchCandidate
}

func NewRecordService(gw Gateway, matcher *Matcher, images ImageQueue) *RecordService {
	return &RecordService{
		gw:      gw,
		matcher: matcher,
		images:  images,
		now:     time.Now,
	}
}

// BeginRun refreshes the matcher candidate pool from storage.
func (s *RecordService) BeginRun(ctx context.Context) error {
	pool, err := s.gw.ListMatchCandidates(ctx)
	if err != nil {
		return fmt.Errorf("load match candidates: %w", err)
	}
	s.mu.Lock()
	s.pool = pool
	s.mu.Unlock()
	return nil
}

// ProcessResult contains the outcome of recording one listing.
type ProcessResult struct {
	ProductID    uuid.UUID
	IsNewProduct bool
	IsMatched    bool
	IsAmbiguous  bool
	PriceWritten bool
	Score        float64
}

// ProcessListing is idempotent: re-running the same listing upserts the same
// product and overwrites the same price row.
func (s *RecordService) ProcessListing(ctx context.Context, l *models.ScrapedListing, category string) (*ProcessResult, error) {
	normalized, err := pricing.Normalize(l, s.now())
	if err != nil {
		return nil, fmt.Errorf("normalize %s listing: %w", l.Vendor, err)
	}

	result := &ProcessResult{}

	productID, err := s.resolveProduct(ctx, l, category, result)
	if err != nil {
		return nil, err
	}
	if result.IsAmbiguous {
		// Too close to call between existing products. Hold the record
		// rather than guess and poison a price row.
		return result, nil
	}
	result.ProductID = productID

	record := &models.PriceRecord{
		ProductID:     productID,
		Vendor:        normalized.Vendor,
		Price:         normalized.Price,
		OriginalPrice: normalized.OriginalPrice,
		Discount:      normalized.Discount,
		Stock:         normalized.Stock,
		URL:           normalized.URL,
		CapturedAt:    normalized.CapturedAt,
	}
	if err := s.gw.UpsertPrice(ctx, record); err != nil {
		return nil, fmt.Errorf("upsert price: %w", err)
	}
	result.PriceWritten = true

	if result.IsMatched {
		if err := s.gw.IncrementPopularity(ctx, productID); err != nil {
			log.Printf("Warning: failed to bump popularity for %s: %v", productID, err)
		}
	}

	return result, nil
}

// resolveProduct matches against the run pool or creates a new product.
// Serialized so concurrent vendor units cannot mint duplicates of the same
// just-seen product within a run.
func (s *RecordService) resolveProduct(ctx context.Context, l *models.ScrapedListing, category string, result *ProcessResult) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := s.matcher.Match(l.Name, l.Brand, l.Model, s.pool)
	result.Score = match.Score
	if match.Ambiguous {
		result.IsAmbiguous = true
		return uuid.Nil, nil
	}
	if match.Matched {
		result.IsMatched = true
		return match.ProductID, nil
	}

	fingerprint := identity.Fingerprint(l.Name, l.Brand, l.Model)
	existing, err := s.gw.GetProductByFingerprint(ctx, fingerprint)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get product by fingerprint: %w", err)
	}
	if existing != nil {
		s.pool = append(s.pool, models.MatchCandidate{
			ID: existing.ID, Name: existing.Name, Brand: existing.Brand, Model: existing.Model,
		})
		return existing.ID, nil
	}

	now := s.now()
	product := &models.Product{
		ID:          uuid.New(),
		Fingerprint: fingerprint,
		Name:        l.Name,
		Brand:       l.Brand,
		Model:       l.Model,
		Category:    category,
		ImageURL:    l.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.gw.UpsertProduct(ctx, product); err != nil {
		return uuid.Nil, fmt.Errorf("create product: %w", err)
	}
	result.IsNewProduct = true

	s.pool = append(s.pool, models.MatchCandidate{
		ID: product.ID, Name: product.Name, Brand: product.Brand, Model: product.Model,
	})

	if s.images != nil && l.ImageURL != "" {
		if _, err := s.images.Enqueue(ctx, product.ID, l.ImageURL); err != nil {
			log.Printf("Warning: failed to queue image %s: %v", l.ImageURL, err)
		}
	}

	return product.ID, nil
}

// ProcessStats tracks aggregate counters for one vendor's slice of a run.
type ProcessStats struct {
	ListingsProcessed int
	ProductsNew       int
	Matched           int
	Ambiguous         int
	PricesWritten     int
	Errors            int
}

func (s *ProcessStats) Aggregate(r *ProcessResult) {
	s.ListingsProcessed++
	if r.IsNewProduct {
		s.ProductsNew++
	}
	if r.IsMatched {
		s.Matched++
	}
	if r.IsAmbiguous {
		s.Ambiguous++
	}
	if r.PriceWritten {
		s.PricesWritten++
	}
}

func (s *ProcessStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"listings_processed": s.ListingsProcessed,
		"products_new":       s.ProductsNew,
		"matched":            s.Matched,
		"ambiguous":          s.Ambiguous,
		"prices_written":     s.PricesWritten,
		"errors":             s.Errors,
	})
	return data
}
