// Package pricing converts vendor price/stock text into canonical typed
// values and resolves listing variations to a single representative offer.
// Everything here is deterministic and side-effect free.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pricepilot/models"
)

// ErrNoPrice is returned when no numeric price can be extracted from text.
var ErrNoPrice = errors.New("no extractable price")

var (
	nonPriceChars = regexp.MustCompile(`[^\d.,]`)

	// Ordered most to least specific; first hit wins.
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,3}(?:,\d{3})+\.\d{1,2}`), // 1,234.56
		regexp.MustCompile(`\d+\.\d{1,2}`),                // 123.45
		regexp.MustCompile(`\d{1,3}(?:,\d{3})+`),          // 1,234
		regexp.MustCompile(`\d+`),                         // 123
	}
)

// ParsePrice extracts a fixed-point price from vendor text such as
// "$1,234.56", "Current price $259.99" or "249". Currency symbols and
// thousands separators are stripped; text with no digits fails with
// ErrNoPrice.
func ParsePrice(text string) (models.Cents, error) {
	cleaned := nonPriceChars.ReplaceAllString(strings.TrimSpace(text), "")
	if cleaned == "" {
		return 0, fmt.Errorf("%q: %w", text, ErrNoPrice)
	}

	for _, pat := range pricePatterns {
		match := pat.FindString(cleaned)
		if match == "" {
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
		if err != nil {
			continue
		}
		if value < 0 {
			continue
		}
		return models.Cents(math.Round(value * 100)), nil
	}

	return 0, fmt.Errorf("%q: %w", text, ErrNoPrice)
}

// Discount returns the discount fraction (original-price)/original, or nil
// when the original price is absent or not strictly above the current price.
func Discount(price models.Cents, original *models.Cents) *float64 {
	if original == nil || *original <= price {
		return nil
	}
	d := float64(*original-price) / float64(*original)
	return &d
}

var stockPhrases = []struct {
	phrase string
	status models.StockStatus
}{
	{"discontinued", models.StockDiscontinued},
	{"no longer available", models.StockDiscontinued},
	{"limited stock", models.StockLimited},
	{"only a few left", models.StockLimited},
	{"low stock", models.StockLimited},
	{"out of stock", models.StockOut},
	{"sold out", models.StockOut},
	{"currently unavailable", models.StockUnavailable},
	{"temporarily unavailable", models.StockUnavailable},
	{"not available", models.StockUnavailable},
	{"unavailable", models.StockUnavailable},
	{"in stock", models.StockInStock},
	{"add to cart", models.StockInStock},
	{"available", models.StockInStock},
}

// StatusFromText maps vendor availability wording onto the stock enum.
// Unrecognized text maps to unknown, which still counts as sellable.
func StatusFromText(text string) models.StockStatus {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return models.StockUnknown
	}
	for _, sp := range stockPhrases {
		if strings.Contains(t, sp.phrase) {
			return sp.status
		}
	}
	return models.StockUnknown
}

// Normalize turns a raw listing into its canonical vendor offer: variation
// resolution, price parsing, discount derivation and stock classification.
// A listing whose representative price text has no digits fails with
// ErrNoPrice wrapped in context.
func Normalize(l *models.ScrapedListing, at time.Time) (*models.NormalizedPrice, error) {
	rep, err := Resolve(l)
	if err != nil {
		return nil, err
	}

	var original *models.Cents
	if l.OriginalPriceText != "" {
		if o, err := ParsePrice(l.OriginalPriceText); err == nil {
			original = &o
		}
	}

	return &models.NormalizedPrice{
		Vendor:        l.Vendor,
		Price:         rep.Price,
		OriginalPrice: original,
		Discount:      Discount(rep.Price, original),
		Stock:         rep.Stock,
		URL:           rep.URL,
		CapturedAt:    at,
	}, nil
}
