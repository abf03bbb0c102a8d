package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderAvailability is the provider-owned availability record
type ProviderAvailability struct {
	ProviderID      string
	Name            string
	IsAvailable     bool
	CurrentLocation Location
	Categories      []string
	UpdatedAt       time.Time
}

// Serves reports whether the provider works in categoryID.
func (p *ProviderAvailability) Serves(categoryID string) bool {
	for _, c := range p.Categories {
		if c == categoryID {
			return true
		}
	}
	return false
}

// PriceSample is the final price of one completed job
type PriceSample struct {
	SampleID    string
	CategoryID  string
	Price       decimal.Decimal
	CompletedAt time.Time
}
