package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricepilot/config"
	"pricepilot/governor"
	"pricepilot/models"
)

// Scraper is the capability contract every vendor implements. Search returns
// an empty slice (not an error) when the vendor has no results; FetchDetail
// fails with *FetchError when the page is unreachable and *ParseError when
// the markup does not match the vendor's expected shape.
type Scraper interface {
	ID() string
	Search(ctx context.Context, query string) ([]models.ScrapedListing, error)
	FetchDetail(ctx context.Context, listingURL string) (*models.ScrapedListing, error)
}

// New picks the vendor implementation for a config entry. Brand sites share
// one selector-driven implementation; marketplaces each carry their own
// selector set.
func New(cfg *config.VendorConfig, fetch Fetcher) (Scraper, error) {
	if cfg.Handler == "brand" {
		return NewBrandScraper(cfg, fetch), nil
	}
	switch cfg.ID {
	case "amazon":
		return NewAmazonScraper(cfg, fetch), nil
	case "walmart":
		return NewWalmartScraper(cfg, fetch), nil
	case "bestbuy":
		return NewBestBuyScraper(cfg, fetch), nil
	default:
		return nil, fmt.Errorf("no scraper implementation for vendor %q", cfg.ID)
	}
}

// PacedFetcher routes every fetch through the governor, so pacing and retry
// apply uniformly no matter which vendor code issues the request.
type PacedFetcher struct {
	vendor string
	gov    *governor.Governor
	inner  Fetcher
}

func NewPacedFetcher(vendor string, gov *governor.Governor, inner Fetcher) *PacedFetcher {
	return &PacedFetcher{vendor: vendor, gov: gov, inner: inner}
}

func (p *PacedFetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	var doc *goquery.Document
	err := p.gov.Do(ctx, p.vendor, func(ctx context.Context) error {
		d, err := p.inner.Fetch(ctx, rawURL)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

func searchURL(template, query string) string {
	return fmt.Sprintf(template, url.QueryEscape(query))
}

// firstText tries selectors in order and returns the first non-empty text.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// firstAttr tries selectors in order and returns the first non-empty attr.
func firstAttr(s *goquery.Selection, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if val, ok := s.Find(sel).First().Attr(attr); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
