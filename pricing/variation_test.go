package pricing

import (
	"testing"

	"pricepilot/models"
)

func TestResolve_NoVariations(t *testing.T) {
	l := &models.ScrapedListing{
		Vendor:    "walmart",
		Name:      "Sony WH-1000XM4",
		PriceText: "$259.99",
		StockText: "In stock",
		URL:       "https://www.walmart.com/ip/12345",
	}

	r, err := Resolve(l)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Price != 25999 {
		t.Fatalf("price = %d, want 25999", r.Price)
	}
	if r.URL != l.URL {
		t.Fatalf("url = %s, want listing url", r.URL)
	}
}

func TestResolve_SkipsUnsellableCheaperVariation(t *testing.T) {
	// Silver is cheaper but out of stock; black must win.
	l := &models.ScrapedListing{
		Vendor: "amazon",
		Name:   "Headphones",
		URL:    "https://example.com/p/1",
		Variations: []models.Variation{
			{Attributes: map[string]string{"color": "black"}, PriceText: "999", StockText: "In Stock", URL: "https://example.com/p/1?c=black"},
			{Attributes: map[string]string{"color": "silver"}, PriceText: "899", StockText: "Out of stock", URL: "https://example.com/p/1?c=silver"},
		},
	}

	r, err := Resolve(l)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Price != 99900 {
		t.Fatalf("price = %d, want 99900 (black)", r.Price)
	}
	if !r.Stock.Sellable() {
		t.Fatalf("expected sellable status, got %s", r.Stock)
	}
}

func TestResolve_AllUnavailableKeepsPriceVisible(t *testing.T) {
	l := &models.ScrapedListing{
		Vendor: "bestbuy",
		Name:   "Headphones",
		URL:    "https://example.com/p/2",
		Variations: []models.Variation{
			{PriceText: "499", StockText: "Sold out"},
			{PriceText: "449", StockText: "Discontinued"},
		},
	}

	r, err := Resolve(l)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Price != 44900 {
		t.Fatalf("price = %d, want cheapest 44900", r.Price)
	}
	if r.Stock != models.StockDiscontinued {
		t.Fatalf("stock = %s, want discontinued carried through", r.Stock)
	}
}

func TestResolve_TieBreakPrefersBaseURL(t *testing.T) {
	base := "https://example.com/p/3"
	l := &models.ScrapedListing{
		Vendor: "amazon",
		Name:   "Headphones",
		URL:    base,
		Variations: []models.Variation{
			{Attributes: map[string]string{"color": "red"}, PriceText: "199", StockText: "In Stock", URL: base + "?c=red"},
			{Attributes: map[string]string{"color": "black"}, PriceText: "199", StockText: "In Stock", URL: base},
		},
	}

	r, err := Resolve(l)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.URL != base {
		t.Fatalf("url = %s, want base variant %s", r.URL, base)
	}

	// Stable across repeated runs.
	for i := 0; i < 5; i++ {
		again, err := Resolve(l)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if again != r {
			t.Fatalf("resolution not reproducible: %+v vs %+v", again, r)
		}
	}
}

func TestResolve_TieBreakSourceOrder(t *testing.T) {
	l := &models.ScrapedListing{
		Vendor: "walmart",
		Name:   "Headphones",
		URL:    "https://example.com/p/4",
		Variations: []models.Variation{
			{PriceText: "299", StockText: "In Stock", URL: "https://example.com/p/4?v=a"},
			{PriceText: "299", StockText: "In Stock", URL: "https://example.com/p/4?v=b"},
		},
	}

	r, err := Resolve(l)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.URL != "https://example.com/p/4?v=a" {
		t.Fatalf("url = %s, want first in source order", r.URL)
	}
}

func TestResolve_UnpricedVariationsSkipped(t *testing.T) {
	l := &models.ScrapedListing{
		Vendor: "amazon",
		Name:   "Headphones",
		URL:    "https://example.com/p/5",
		Variations: []models.Variation{
			{PriceText: "", StockText: "In Stock"},
			{PriceText: "349.99", StockText: "In Stock", URL: "https://example.com/p/5?v=b"},
		},
	}

	r, err := Resolve(l)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Price != 34999 {
		t.Fatalf("price = %d, want 34999", r.Price)
	}
}
