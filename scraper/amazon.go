package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricepilot/config"
	"pricepilot/identity"
	"pricepilot/models"
)

// AmazonScraper parses amazon.com search and product pages. Amazon renders
// most listing content client-side, so it is normally wired to the browser
// fetcher (handler: browser in the vendor config).
type AmazonScraper struct {
	cfg   *config.VendorConfig
	fetch Fetcher
}

func NewAmazonScraper(cfg *config.VendorConfig, fetch Fetcher) *AmazonScraper {
	return &AmazonScraper{cfg: cfg, fetch: fetch}
}

func (s *AmazonScraper) ID() string { return s.cfg.ID }

var amazonResultSelectors = []string{
	`div[data-component-type="s-search-result"]`,
	`div[data-asin]:not([data-asin=""])`,
	`.s-result-item[data-asin]`,
}

func (s *AmazonScraper) Search(ctx context.Context, query string) ([]models.ScrapedListing, error) {
	doc, err := s.fetch.Fetch(ctx, searchURL(s.cfg.SearchURL, query))
	if err != nil {
		return nil, err
	}

	var cards *goquery.Selection
	for _, sel := range amazonResultSelectors {
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

func (s *AmazonScraper) isSponsored(card *goquery.Selection) bool {
	if v, _ := card.Attr("data-component-type"); v == "sp-sponsored-result" {
		return true
	}
	return card.Find(".puis-sponsored-label-text, .s-sponsored-label-text").Length() > 0
}

func (s *AmazonScraper) parseCard(card *goquery.Selection) (models.ScrapedListing, bool) {
	name := firstText(card,
		"h2.a-size-mini span",
		"h2 a span",
		"h2.s-size-mini span",
		"h2 span",
	)
	href := firstAttr(card, "href",
		"h2 a",
		".s-link-style a",
		`a[href*="/dp/"]`,
	)
	if name == "" || href == "" {
		return models.ScrapedListing{}, false
	}

	asin, _ := card.Attr("data-asin")

	return models.ScrapedListing{
		Vendor: s.cfg.ID,
		Name:   name,
		Brand:  identity.BrandFromName(name),
		PriceText: firstText(card,
			".a-price:not(.a-text-price) .a-offscreen",
			".a-price .a-offscreen",
			".a-price-whole",
		),
		OriginalPriceText: firstText(card,
			".a-price.a-text-price .a-offscreen",
			`span[data-a-strike="true"]`,
		),
		URL:        absoluteURL(s.cfg.BaseURL, href),
		ImageURL:   firstAttr(card, "src", "img.s-image"),
		ExternalID: asin,
	}, true
}

func (s *AmazonScraper) FetchDetail(ctx context.Context, listingURL string) (*models.ScrapedListing, error) {
	doc, err := s.fetch.Fetch(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	name := firstText(doc.Selection, "#productTitle", "h1.a-size-large", "h1 span")
	if name == "" {
		return nil, &ParseError{Vendor: s.cfg.ID, URL: listingURL, Reason: "missing product title"}
	}

	brand := strings.TrimSpace(strings.TrimPrefix(
		strings.TrimPrefix(firstText(doc.Selection, "#bylineInfo"), "Visit the "), "Brand: "))
	brand = strings.TrimSuffix(brand, " Store")
	if brand == "" {
		brand = identity.BrandFromName(name)
	}

	listing := &models.ScrapedListing{
		Vendor: s.cfg.ID,
		Name:   name,
		Brand:  brand,
		PriceText: firstText(doc.Selection,
			".a-price.apexPriceToPay .a-offscreen",
			"#price_inside_buybox",
			"#corePrice_feature_div .a-price .a-offscreen",
			".a-price:not(.a-text-price) .a-offscreen",
		),
		OriginalPriceText: firstText(doc.Selection,
			".a-price.a-text-price .a-offscreen",
			"span.a-price-list .a-offscreen",
		),
		StockText:  firstText(doc.Selection, "#availability span", "#availability"),
		URL:        listingURL,
		ImageURL:   firstAttr(doc.Selection, "src", "#landingImage", ".a-dynamic-image", "#imgBlkFront"),
		Variations: s.parseVariations(doc, listingURL),
	}

	if tokens := identity.ModelTokens(name); len(tokens) > 0 {
		listing.Model = tokens[0]
	}

	return listing, nil
}

// parseVariations reads the swatch row (color/style options). Unavailable
// swatches carry the swatchUnavailable class; price lives in the swatch's
// offscreen span when Amazon includes it.
func (s *AmazonScraper) parseVariations(doc *goquery.Document, baseURL string) []models.Variation {
	var variations []models.Variation

	doc.Find("li.swatchElement").Each(func(_ int, swatch *goquery.Selection) {
		label := firstAttr(swatch, "title", ".a-button")
		if label == "" {
			label, _ = swatch.Find("img").First().Attr("alt")
		}
		label = strings.TrimPrefix(label, "Click to select ")

		stockText := ""
		if swatch.HasClass("swatchUnavailable") {
			stockText = "unavailable"
		}

		v := models.Variation{
			PriceText: firstText(swatch, ".a-price .a-offscreen", ".a-size-mini.a-color-price"),
			StockText: stockText,
			URL:       absoluteURL(baseURL, firstAttr(swatch, "data-dp-url", ".a-button-input")),
		}
		if label != "" {
			v.Attributes = map[string]string{"option": label}
		}
		variations = append(variations, v)
	})

	return variations
}

func (s *AmazonScraper) maxListings() int {
	if s.cfg.MaxListings > 0 {
		return s.cfg.MaxListings
	}
	return 5
}
