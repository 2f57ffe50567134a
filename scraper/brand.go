package scraper

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricepilot/config"
	"pricepilot/identity"
	"pricepilot/models"
)

// BrandScraper covers first-party brand storefronts. The sites differ only
// in markup, so each one is described by a selector set in the vendor
// config rather than its own implementation. Search fans out across every
// configured site and merges the results.
type BrandScraper struct {
	cfg   *config.VendorConfig
	fetch Fetcher
}

func NewBrandScraper(cfg *config.VendorConfig, fetch Fetcher) *BrandScraper {
	return &BrandScraper{cfg: cfg, fetch: fetch}
}

func (s *BrandScraper) ID() string { return s.cfg.ID }

func (s *BrandScraper) Search(ctx context.Context, query string) ([]models.ScrapedListing, error) {
	names := make([]string, 0, len(s.cfg.Brands))
	for name := range s.cfg.Brands {
		names = append(names, name)
	}
	sort.Strings(names)

	var listings []models.ScrapedListing
	var lastErr error
	for _, name := range names {
		site := s.cfg.Brands[name]
		if !strings.Contains(strings.ToLower(query), strings.ToLower(name)) {
			continue
		}
		found, err := s.searchSite(ctx, name, site, query)
		if err != nil {
			lastErr = err
			continue
		}
		listings = append(listings, found...)
	}

	if len(listings) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return listings, nil
}

func (s *BrandScraper) searchSite(ctx context.Context, brand string, site *config.BrandSite, query string) ([]models.ScrapedListing, error) {
	doc, err := s.fetch.Fetch(ctx, searchURL(site.SearchURL, query))
	if err != nil {
		return nil, err
	}

	var cards *goquery.Selection
	for _, sel := range site.Selectors.Result {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}
	if cards == nil || cards.Length() == 0 {
		return nil, nil
	}

	base := "https://" + site.Domain
	var listings []models.ScrapedListing
	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if l, ok := s.parseCard(card, brand, site, base); ok {
			listings = append(listings, l)
		}
		return len(listings) < s.maxListings()
	})

	return listings, nil
}

func (s *BrandScraper) parseCard(card *goquery.Selection, brand string, site *config.BrandSite, base string) (models.ScrapedListing, bool) {
	name := firstText(card, site.Selectors.Name...)
	href := firstAttr(card, "href", site.Selectors.Link...)
	if name == "" || href == "" {
		return models.ScrapedListing{}, false
	}

	return models.ScrapedListing{
		Vendor:            s.cfg.ID,
		Name:              name,
		Brand:             brand,
		PriceText:         firstText(card, site.Selectors.Price...),
		OriginalPriceText: firstText(card, site.Selectors.OriginalPrice...),
		StockText:         firstText(card, site.Selectors.Stock...),
		URL:               absoluteURL(base, href),
		ImageURL:          firstAttr(card, "src", site.Selectors.Image...),
	}, true
}

func (s *BrandScraper) FetchDetail(ctx context.Context, listingURL string) (*models.ScrapedListing, error) {
	brand, site := s.siteFor(listingURL)
	if site == nil {
		return nil, &ParseError{Vendor: s.cfg.ID, URL: listingURL, Reason: "no brand site configured for host"}
	}

	doc, err := s.fetch.Fetch(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	name := firstText(doc.Selection, site.Selectors.Name...)
	if name == "" {
		name = firstText(doc.Selection, "h1")
	}
	if name == "" {
		return nil, &ParseError{Vendor: s.cfg.ID, URL: listingURL, Reason: "missing product name"}
	}

	listing := &models.ScrapedListing{
		Vendor:            s.cfg.ID,
		Name:              name,
		Brand:             brand,
		PriceText:         firstText(doc.Selection, site.Selectors.Price...),
		OriginalPriceText: firstText(doc.Selection, site.Selectors.OriginalPrice...),
		StockText:         firstText(doc.Selection, site.Selectors.Stock...),
		URL:               listingURL,
		ImageURL:          firstAttr(doc.Selection, "src", site.Selectors.Image...),
	}

	if tokens := identity.ModelTokens(name); len(tokens) > 0 {
		listing.Model = tokens[0]
	}

	return listing, nil
}

func (s *BrandScraper) siteFor(rawURL string) (string, *config.BrandSite) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for name, site := range s.cfg.Brands {
		if host == strings.TrimPrefix(strings.ToLower(site.Domain), "www.") {
			return name, site
		}
	}
	return "", nil
}

func (s *BrandScraper) maxListings() int {
	if s.cfg.MaxListings > 0 {
		return s.cfg.MaxListings
	}
	return 5
}
