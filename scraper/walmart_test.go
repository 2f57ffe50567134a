package scraper

import (
	"context"
	"testing"

	"pricepilot/config"
)

func walmartTestConfig() *config.VendorConfig {
	return &config.VendorConfig{
		ID:        "walmart",
		Name:      "Walmart",
		Handler:   "html",
		BaseURL:   "https://www.walmart.com",
		SearchURL: "https://www.walmart.com/search?q=%s",
	}
}

func TestWalmartSearch(t *testing.T) {
	fetch := &fixtureFetcher{t: t, pages: map[string]string{
		"https://www.walmart.com/search?q=headphones": "walmart_search.html",
	}}
	s := NewWalmartScraper(walmartTestConfig(), fetch)

	listings, err := s.Search(context.Background(), "headphones")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings with sponsored skipped, got %d", len(listings))
	}

	sony := listings[0]
	if sony.Name != "Sony WH-1000XM4 Wireless Noise Canceling Over-the-Ear Headphones" {
		t.Fatalf("unexpected name %q", sony.Name)
	}
	if sony.PriceText != "$259.99" {
		t.Fatalf("unexpected price text %q", sony.PriceText)
	}
	if sony.OriginalPriceText != "$349.99" {
		t.Fatalf("unexpected original price text %q", sony.OriginalPriceText)
	}
	if sony.URL != "https://www.walmart.com/ip/sony-wh-1000xm4/938406996" {
		t.Fatalf("unexpected URL %s", sony.URL)
	}
	if sony.ExternalID != "938406996" {
		t.Fatalf("unexpected external id %s", sony.ExternalID)
	}

	jbl := listings[1]
	if jbl.Brand != "jbl" {
		t.Fatalf("expected brand jbl, got %q", jbl.Brand)
	}
	if jbl.OriginalPriceText != "" {
		t.Fatalf("jbl listing has no strike price, got %q", jbl.OriginalPriceText)
	}
}

func TestWalmartFetchDetail(t *testing.T) {
	url := "https://www.walmart.com/ip/sony-wh-1000xm4/938406996"
	fetch := &fixtureFetcher{t: t, pages: map[string]string{url: "walmart_detail.html"}}
	s := NewWalmartScraper(walmartTestConfig(), fetch)

	listing, err := s.FetchDetail(context.Background(), url)
	if err != nil {
		t.Fatalf("detail fetch failed: %v", err)
	}
	if listing.StockText != "Free shipping, arrives tomorrow" {
		t.Fatalf("unexpected stock text %q", listing.StockText)
	}
	if len(listing.Variations) != 2 {
		t.Fatalf("expected 2 variations, got %d", len(listing.Variations))
	}

	black, silver := listing.Variations[0], listing.Variations[1]
	if black.Attributes["option"] != "Black" || black.StockText != "" {
		t.Fatalf("unexpected black variation %+v", black)
	}
	if silver.StockText != "out of stock" {
		t.Fatalf("disabled tile must read out of stock, got %q", silver.StockText)
	}
	if silver.PriceText != "$249.99" {
		t.Fatalf("unexpected silver price %q", silver.PriceText)
	}
}
