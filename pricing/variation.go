package pricing

import (
	"fmt"

	"pricepilot/models"
)

// Resolved is the representative offer picked out of a listing.
type Resolved struct {
	Price models.Cents
	Stock models.StockStatus
	URL   string
}

// Resolve selects the single representative offer for a listing.
//
// With no variations the listing itself is the offer. With variations, the
// cheapest sellable one wins; if every variation is unsellable the cheapest
// overall is kept so the price stays visible, carrying its unsellable status.
// Equal lowest prices tie-break to the variation whose URL equals the
// listing's own (the default/no-selection variant), else first in source
// order, so identical input always resolves identically.
func Resolve(l *models.ScrapedListing) (Resolved, error) {
	if len(l.Variations) == 0 {
		price, err := ParsePrice(l.PriceText)
		if err != nil {
			return Resolved{}, fmt.Errorf("listing %q: %w", l.Name, err)
		}
		return Resolved{Price: price, Stock: StatusFromText(l.StockText), URL: l.URL}, nil
	}

	type parsed struct {
		price models.Cents
		stock models.StockStatus
		url   string
	}

	var sellable, all []parsed
	for _, v := range l.Variations {
		price, err := ParsePrice(v.PriceText)
		if err != nil {
			continue // unpriced variation carries no usable offer
		}
		url := v.URL
		if url == "" {
			url = l.URL
		}
		p := parsed{price: price, stock: StatusFromText(v.StockText), url: url}
		all = append(all, p)
		if p.stock.Sellable() {
			sellable = append(sellable, p)
		}
	}

	if len(all) == 0 {
		return Resolved{}, fmt.Errorf("listing %q: no parseable variation price: %w", l.Name, ErrNoPrice)
	}

	pool := sellable
	if len(pool) == 0 {
		pool = all
	}

	best := pool[0]
	for _, p := range pool[1:] {
		if p.price < best.price {
			best = p
			continue
		}
		if p.price == best.price && best.url != l.URL && p.url == l.URL {
			best = p
		}
	}

	return Resolved{Price: best.price, Stock: best.stock, URL: best.url}, nil
}
