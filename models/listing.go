package models

// ScrapedListing is one vendor's raw view of a product, straight out of the
// page. Fields hold the text as scraped; normalization happens downstream.
// Instances live for a single scrape attempt and are never persisted as-is.
type ScrapedListing struct {
	Vendor            string      `json:"vendor"`
	Name              string      `json:"name"`
	Brand             string      `json:"brand,omitempty"`
	Model             string      `json:"model,omitempty"`
	PriceText         string      `json:"price_text"`
	OriginalPriceText string      `json:"original_price_text,omitempty"`
	StockText         string      `json:"stock_text,omitempty"`
	URL               string      `json:"url"`
	ImageURL          string      `json:"image_url,omitempty"`
	ExternalID        string      `json:"external_id,omitempty"`
	Variations        []Variation `json:"variations,omitempty"`
}

// Variation is a purchasable option (color/size/model) within a listing.
// Source order matters for tie-breaking, so the slice is never reordered.
type Variation struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	PriceText  string            `json:"price_text"`
	StockText  string            `json:"stock_text,omitempty"`
	URL        string            `json:"url,omitempty"`
}
