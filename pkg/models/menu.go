package models

import (
	"strings"
	"time"
)

type MenuItem struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
	Ingredients []string  `json:"ingredients"`
	SizeOptions []string  `json:"size_options"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	PriceRangeBudget   = "budget"
	PriceRangeMidRange = "mid-range"
	PriceRangePremium  = "premium"
)

// InPriceRange reports whether price falls into the named band. Unknown or
// empty ranges match everything.
func InPriceRange(price float64, priceRange string) bool {
	cents := ToCents(price)
	switch priceRange {
	case PriceRangeBudget:
		return cents <= 1200
	case PriceRangeMidRange:
		return cents > 1200 && cents <= 1400
	case PriceRangePremium:
		return cents > 1400
	default:
		return true
	}
}

type MenuFilter struct {
	Category   string
	PriceRange string
}

// Matches applies the filter to an item. Unavailable items never match.
func (f MenuFilter) Matches(item MenuItem) bool {
	if !item.Available {
		return false
	}
	if f.Category != "" && !strings.EqualFold(item.Category, f.Category) {
		return false
	}
	return InPriceRange(item.Price, f.PriceRange)
}
