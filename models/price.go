package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cents is a fixed-point money amount in hundredths of the vendor currency.
type Cents int64

func (c Cents) Float64() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}

type StockStatus string

const (
	StockInStock      StockStatus = "in_stock"
	StockLimited      StockStatus = "limited_stock"
	StockOut          StockStatus = "out_of_stock"
	StockUnavailable  StockStatus = "unavailable"
	StockDiscontinued StockStatus = "discontinued"
	StockUnknown      StockStatus = "unknown"
)

// Sellable reports whether a buyer could actually order at this status.
func (s StockStatus) Sellable() bool {
	switch s {
	case StockOut, StockUnavailable, StockDiscontinued:
		return false
	}
	return true
}

// NormalizedPrice is the canonical form of one vendor offer after price text
// parsing and variation resolution. Discount is a fraction in (0, 1], present
// only when the original price is known and strictly above the current one.
type NormalizedPrice struct {
	Vendor        string      `json:"vendor"`
	Price         Cents       `json:"price"`
	OriginalPrice *Cents      `json:"original_price,omitempty"`
	Discount      *float64    `json:"discount,omitempty"`
	Stock         StockStatus `json:"stock"`
	URL           string      `json:"url"`
	CapturedAt    time.Time   `json:"captured_at"`
}

// PriceRecord is the live price row for a (product, vendor) pair. There is at
// most one per pair; successive scrapes overwrite it, last writer wins by
// CapturedAt.
type PriceRecord struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	ProductID     uuid.UUID   `json:"product_id" db:"product_id"`
	Vendor        string      `json:"vendor" db:"vendor"`
	Price         Cents       `json:"price" db:"price_cents"`
	OriginalPrice *Cents      `json:"original_price,omitempty" db:"original_price_cents"`
	Discount      *float64    `json:"discount,omitempty" db:"discount"`
	Stock         StockStatus `json:"stock" db:"stock_status"`
	URL           string      `json:"url" db:"product_url"`
	CapturedAt    time.Time   `json:"captured_at" db:"captured_at"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// PriceHistory is an archived price point, written whenever the live row for
// a (product, vendor) pair changes price or stock.
type PriceHistory struct {
	ID         int64       `json:"id" db:"id"`
	ProductID  uuid.UUID   `json:"product_id" db:"product_id"`
	Vendor     string      `json:"vendor" db:"vendor"`
	Price      Cents       `json:"price" db:"price_cents"`
	Stock      StockStatus `json:"stock" db:"stock_status"`
	CapturedAt time.Time   `json:"captured_at" db:"captured_at"`
}

// Age is the freshness of the record relative to now.
func (r *PriceRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CapturedAt)
}

// BestDeal picks the lowest-priced in-stock row, or nil when no vendor has
// sellable stock. Ties resolve to the earliest row in the slice.
func BestDeal(records []PriceRecord) *PriceRecord {
	var best *PriceRecord
	for i := range records {
		r := &records[i]
		if !r.Stock.Sellable() {
			continue
		}
		if best == nil || r.Price < best.Price {
			best = r
		}
	}
	return best
}
