package scraper

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"pricepilot/config"
	"pricepilot/identity"
	"pricepilot/models"
)

// BestBuyScraper parses bestbuy.com search and SKU pages. Best Buy hides
// its real prices in screen-reader spans, so price selectors lean on those.
type BestBuyScraper struct {
	cfg   *config.VendorConfig
	fetch Fetcher
}

func NewBestBuyScraper(cfg *config.VendorConfig, fetch Fetcher) *BestBuyScraper {
	return &BestBuyScraper{cfg: cfg, fetch: fetch}
}

func (s *BestBuyScraper) ID() string { return s.cfg.ID }

var bestbuyResultSelectors = []string{
	"li.sku-item",
	`[data-testid="product-card"]`,
	".product-item-wrapper",
}

func (s *BestBuyScraper) Search(ctx context.Context, query string) ([]models.ScrapedListing, error) {
	doc, err := s.fetch.Fetch(ctx, searchURL(s.cfg.SearchURL, query))
	if err != nil {
		return nil, err
	}

	var cards *goquery.Selection
	for _, sel := range bestbuyResultSelectors {
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

func (s *BestBuyScraper) isSponsored(card *goquery.Selection) bool {
	return card.Find(`.is-sponsored, [data-testid="sponsored-label"]`).Length() > 0
}

func (s *BestBuyScraper) parseCard(card *goquery.Selection) (models.ScrapedListing, bool) {
	name := firstText(card,
		".sku-title a",
		"h4.sku-title",
		`[data-testid="product-title"]`,
	)
	if name == "" {
		name = firstAttr(card, "title", "a.image-link")
	}
	href := firstAttr(card, "href",
		".sku-title a",
		".sku-header a",
		"a.image-link",
	)
	if name == "" || href == "" {
		return models.ScrapedListing{}, false
	}

	sku, _ := card.Attr("data-sku-id")

	return models.ScrapedListing{
		Vendor: s.cfg.ID,
		Name:   name,
		Brand:  identity.BrandFromName(name),
		PriceText: firstText(card,
			".priceView-customer-price span",
			".pricing-price__range .sr-only",
			".pricing-current-price .sr-only",
			".price-current .sr-only",
		),
		OriginalPriceText: firstText(card,
			".pricing-price__regular-price",
			".pricing-was-price .sr-only",
		),
		URL:        absoluteURL(s.cfg.BaseURL, href),
		ImageURL:   firstAttr(card, "src", ".product-image img", "img.product-image"),
		ExternalID: sku,
	}, true
}

func (s *BestBuyScraper) FetchDetail(ctx context.Context, listingURL string) (*models.ScrapedListing, error) {
	doc, err := s.fetch.Fetch(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	name := firstText(doc.Selection, ".sku-title h1", "h1.heading-5", "h1")
	if name == "" {
		return nil, &ParseError{Vendor: s.cfg.ID, URL: listingURL, Reason: "missing sku title"}
	}

	listing := &models.ScrapedListing{
		Vendor: s.cfg.ID,
		Name:   name,
		Brand:  identity.BrandFromName(name),
		PriceText: firstText(doc.Selection,
			".priceView-customer-price span",
			".priceView-hero-price span",
			".pricing-price .sr-only",
		),
		OriginalPriceText: firstText(doc.Selection,
			".pricing-price__regular-price",
			".pricing-was-price .sr-only",
		),
		StockText: firstText(doc.Selection,
			".fulfillment-add-to-cart-button button",
			`[data-testid="fulfillment-add-to-cart"]`,
		),
		URL:        listingURL,
		ImageURL:   firstAttr(doc.Selection, "src", ".primary-image", ".shop-media-gallery img"),
		Variations: s.parseVariations(doc, listingURL),
	}

	if tokens := identity.ModelTokens(name); len(tokens) > 0 {
		listing.Model = tokens[0]
	}

	return listing, nil
}

func (s *BestBuyScraper) parseVariations(doc *goquery.Document, baseURL string) []models.Variation {
	var variations []models.Variation

	doc.Find(".variation-option, li.variation-item").Each(func(_ int, opt *goquery.Selection) {
		label := firstAttr(opt, "aria-label", "button")
		if label == "" {
			label = firstText(opt, ".variation-name")
		}

		stockText := firstText(opt, ".variation-availability")
		if opt.Find("button[disabled]").Length() > 0 {
			stockText = "sold out"
		}

		v := models.Variation{
			PriceText: firstText(opt, ".variation-price"),
			StockText: stockText,
			URL:       absoluteURL(baseURL, firstAttr(opt, "href", "a")),
		}
		if label != "" {
			v.Attributes = map[string]string{"option": label}
		}
		variations = append(variations, v)
	})

	return variations
}

func (s *BestBuyScraper) maxListings() int {
	if s.cfg.MaxListings > 0 {
		return s.cfg.MaxListings
	}
	return 5
}
