package scraper

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"pricepilot/config"
	"pricepilot/identity"
	"pricepilot/models"
)

// WalmartScraper parses walmart.com search and item pages.
type WalmartScraper struct {
	cfg   *config.VendorConfig
	fetch Fetcher
}

func NewWalmartScraper(cfg *config.VendorConfig, fetch Fetcher) *WalmartScraper {
	return &WalmartScraper{cfg: cfg, fetch: fetch}
}

func (s *WalmartScraper) ID() string { return s.cfg.ID }

var walmartResultSelectors = []string{
	`div[data-automation-id="product-tile"]`,
	`[data-item-id]`,
	`.search-result-gridview-item`,
}

func (s *WalmartScraper) Search(ctx context.Context, query string) ([]models.ScrapedListing, error) {
	doc, err := s.fetch.Fetch(ctx, searchURL(s.cfg.SearchURL, query))
	if err != nil {
		return nil, err
	}

	var cards *goquery.Selection
	for _, sel := range walmartResultSelectors {
		cards = doc.Find(sel)
		if cards.Length() > 0 {
			break
		}
	}
	if cards == nil || cards.Length() == 0 {
		return nil, nil
	}

	var listings []models.ScrapedListing
	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if s.isSponsored(card) {
			return true
		}
		if l, ok := s.parseCard(card); ok {
			listings = append(listings, l)
		}
		return len(listings) < s.maxListings()
	})

	return listings, nil
}

func (s *WalmartScraper) isSponsored(card *goquery.Selection) bool {
	return card.Find(`[data-automation-id="sponsored-badge"], .sponsored-flag`).Length() > 0
}

func (s *WalmartScraper) parseCard(card *goquery.Selection) (models.ScrapedListing, bool) {
	name := firstText(card,
		`span[data-automation-id="product-title"]`,
		`a[data-automation-id="product-title"]`,
		`[data-testid="product-title"]`,
	)
	href := firstAttr(card, "href",
		`a[data-automation-id="product-title"]`,
		"a[link-identifier]",
		`a[href*="/ip/"]`,
	)
	if name == "" || href == "" {
		return models.ScrapedListing{}, false
	}

	itemID, _ := card.Attr("data-item-id")

	return models.ScrapedListing{
		Vendor: s.cfg.ID,
		Name:   name,
		Brand:  identity.BrandFromName(name),
		PriceText: firstText(card,
			`span[itemprop="price"]`,
			`div[data-automation-id="product-price"] span`,
			`[data-testid="price-current"]`,
			".price-current",
		),
		OriginalPriceText: firstText(card,
			`span[data-automation-id="product-price-strikethrough"]`,
			".price-was",
			".strikethrough",
		),
		URL:        absoluteURL(s.cfg.BaseURL, href),
		ImageURL:   firstAttr(card, "src", `img[data-automation-id="product-image"]`, ".product-image img"),
		ExternalID: itemID,
	}, true
}

func (s *WalmartScraper) FetchDetail(ctx context.Context, listingURL string) (*models.ScrapedListing, error) {
	doc, err := s.fetch.Fetch(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	name := firstText(doc.Selection, `h1[itemprop="name"]`, "h1#main-title", "h1")
	if name == "" {
		return nil, &ParseError{Vendor: s.cfg.ID, URL: listingURL, Reason: "missing item title"}
	}

	listing := &models.ScrapedListing{
		Vendor: s.cfg.ID,
		Name:   name,
		Brand:  identity.BrandFromName(name),
		PriceText: firstText(doc.Selection,
			`span[itemprop="price"]`,
			`[data-testid="price-current"]`,
			".price-current",
		),
		OriginalPriceText: firstText(doc.Selection,
			`span[data-automation-id="product-price-strikethrough"]`,
			".price-was",
		),
		StockText: firstText(doc.Selection,
			`[data-testid="fulfillment-badge"]`,
			`div[data-automation-id="fulfillment-section"]`,
			".prod-fulfillment-messaging",
		),
		URL:        listingURL,
		ImageURL:   firstAttr(doc.Selection, "src", `img[data-testid="hero-image"]`, ".prod-hero-image img"),
		Variations: s.parseVariations(doc, listingURL),
	}

	if tokens := identity.ModelTokens(name); len(tokens) > 0 {
		listing.Model = tokens[0]
	}

	return listing, nil
}

func (s *WalmartScraper) parseVariations(doc *goquery.Document, baseURL string) []models.Variation {
	var variations []models.Variation

	doc.Find(`[data-testid="variant-tile"]`).Each(func(_ int, tile *goquery.Selection) {
		label, _ := tile.Attr("aria-label")
		if label == "" {
			label = firstText(tile, ".variant-label")
		}

		stockText := ""
		if tile.Is(`[aria-disabled="true"]`) || tile.HasClass("variant-unavailable") {
			stockText = "out of stock"
		} else {
			stockText = firstText(tile, ".variant-availability")
		}

		href, ok := tile.Attr("href")
		if !ok {
			href = firstAttr(tile, "href", "a")
		}

		v := models.Variation{
			PriceText: firstText(tile, ".variant-price", `[data-testid="variant-price"]`),
			StockText: stockText,
			URL:       absoluteURL(baseURL, href),
		}
		if label != "" {
			v.Attributes = map[string]string{"option": label}
		}
		variations = append(variations, v)
	})

	return variations
}

func (s *WalmartScraper) maxListings() int {
	if s.cfg.MaxListings > 0 {
		return s.cfg.MaxListings
	}
	return 5
}
