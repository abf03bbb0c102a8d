package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceGuidanceDTO struct {
	CategoryID  string          `json:"category_id"`
	P10         decimal.Decimal `json:"p10"`
	P50         decimal.Decimal `json:"p50"`
	P90         decimal.Decimal `json:"p90"`
	SampleCount int             `json:"sample_count"`
}

// RecordSampleRequest accepts the price as a JSON number or string
type RecordSampleRequest struct {
	SampleID    string          `json:"sample_id"`
	CategoryID  string          `json:"category_id"`
	Price       decimal.Decimal `json:"price"`
	CompletedAt time.Time       `json:"completed_at"`
}
