package scraper

import (
	"context"
	"errors"
	"testing"

	"pricepilot/config"
)

func amazonTestConfig() *config.VendorConfig {
	return &config.VendorConfig{
		ID:        "amazon",
		Name:      "Amazon",
		Handler:   "browser",
		BaseURL:   "https://www.amazon.com",
		SearchURL: "https://www.amazon.com/s?k=%s",
	}
}

func TestAmazonSearch(t *testing.T) {
	fetch := &fixtureFetcher{t: t, pages: map[string]string{
		"https://www.amazon.com/s?k=wireless+headphones": "amazon_search.html",
	}}
	s := NewAmazonScraper(amazonTestConfig(), fetch)

	listings, err := s.Search(context.Background(), "wireless headphones")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings (sponsored and linkless skipped), got %d", len(listings))
	}

	first := listings[0]
	if first.Name != "Sony WH-1000XM4 Wireless Premium Noise Canceling Overhead Headphones" {
		t.Fatalf("unexpected name %q", first.Name)
	}
	if first.Brand != "sony" {
		t.Fatalf("expected brand sony, got %q", first.Brand)
	}
	if first.PriceText != "$248.00" {
		t.Fatalf("expected price text $248.00, got %q", first.PriceText)
	}
	if first.OriginalPriceText != "$349.99" {
		t.Fatalf("expected original price text $349.99, got %q", first.OriginalPriceText)
	}
	if first.URL != "https://www.amazon.com/dp/B09XS7JWHH" {
		t.Fatalf("unexpected URL %s", first.URL)
	}
	if first.ExternalID != "B09XS7JWHH" {
		t.Fatalf("unexpected external id %s", first.ExternalID)
	}

	if listings[1].ExternalID != "B08PZHYWJS" {
		t.Fatalf("unexpected second listing %s", listings[1].ExternalID)
	}
	if listings[1].OriginalPriceText != "" {
		t.Fatalf("second listing has no strike price, got %q", listings[1].OriginalPriceText)
	}
}

func TestAmazonSearch_NoResults(t *testing.T) {
	fetch := &fixtureFetcher{t: t, pages: map[string]string{
		"https://www.amazon.com/s?k=xyzzy": "empty_search.html",
	}}
	s := NewAmazonScraper(amazonTestConfig(), fetch)

	listings, err := s.Search(context.Background(), "xyzzy")
	if err != nil {
		t.Fatalf("empty search must not error: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("expected no listings, got %d", len(listings))
	}
}

func TestAmazonSearch_MaxListingsCap(t *testing.T) {
	cfg := amazonTestConfig()
	cfg.MaxListings = 1
	fetch := &fixtureFetcher{t: t, pages: map[string]string{
		"https://www.amazon.com/s?k=wireless+headphones": "amazon_search.html",
	}}
	s := NewAmazonScraper(cfg, fetch)

	listings, err := s.Search(context.Background(), "wireless headphones")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("expected cap of 1 listing, got %d", len(listings))
	}
}

func TestAmazonFetchDetail(t *testing.T) {
	url := "https://www.amazon.com/dp/B09XS7JWHH"
	fetch := &fixtureFetcher{t: t, pages: map[string]string{url: "amazon_detail.html"}}
	s := NewAmazonScraper(amazonTestConfig(), fetch)

	listing, err := s.FetchDetail(context.Background(), url)
	if err != nil {
		t.Fatalf("detail fetch failed: %v", err)
	}
	if listing.Brand != "Sony" {
		t.Fatalf("expected byline brand Sony, got %q", listing.Brand)
	}
	if listing.Model != "wh-1000xm4" {
		t.Fatalf("expected model wh-1000xm4, got %q", listing.Model)
	}
	if listing.PriceText != "$248.00" {
		t.Fatalf("unexpected price text %q", listing.PriceText)
	}
	if listing.StockText != "In Stock" {
		t.Fatalf("unexpected stock text %q", listing.StockText)
	}
	if len(listing.Variations) != 2 {
		t.Fatalf("expected 2 variations, got %d", len(listing.Variations))
	}

	black, silver := listing.Variations[0], listing.Variations[1]
	if black.Attributes["option"] != "Black" || black.StockText != "" {
		t.Fatalf("unexpected black variation %+v", black)
	}
	if silver.Attributes["option"] != "Silver" || silver.StockText != "unavailable" {
		t.Fatalf("unexpected silver variation %+v", silver)
	}
	if silver.PriceText != "$229.00" {
		t.Fatalf("unexpected silver price %q", silver.PriceText)
	}
}

func TestAmazonFetchDetail_MissingTitle(t *testing.T) {
	url := "https://www.amazon.com/dp/B000000000"
	fetch := &fixtureFetcher{t: t, pages: map[string]string{url: "empty_search.html"}}
	s := NewAmazonScraper(amazonTestConfig(), fetch)

	_, err := s.FetchDetail(context.Background(), url)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
