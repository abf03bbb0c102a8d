package dto

import (
	"github.com/shopspring/decimal"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// OfferActionRequest is the body of accept and decline
type OfferActionRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

type OfferActionResponse struct {
	JobID      string `json:"job_id"`
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

type OfferDTO struct {
	JobID         string  `json:"job_id"`
	ProviderID    string  `json:"provider_id"`
	DistanceKm    float64 `json:"distance_km"`
	Status        string  `json:"status"`
	IssuedAt      string  `json:"issued_at"`
	ExpiresAt     string  `json:"expires_at"`
	RespondedAt   *string `json:"responded_at,omitempty"`
	DeclineReason string  `json:"decline_reason,omitempty"`
}

func FromOffer(o domain.Offer) OfferDTO {
	out := OfferDTO{
		JobID:         o.JobID,
		ProviderID:    o.ProviderID,
		DistanceKm:    o.DistanceKm,
		Status:        string(o.Status),
		IssuedAt:      FormatTime(o.IssuedAt),
		ExpiresAt:     FormatTime(o.ExpiresAt),
		DeclineReason: string(o.DeclineReason),
	}
	if o.RespondedAt != nil {
		at := FormatTime(*o.RespondedAt)
		out.RespondedAt = &at
	}
	return out
}

// AvailableJobDTO is the provider's view of an open offer
type AvailableJobDTO struct {
	JobID              string          `json:"job_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	CategoryID         string          `json:"category_id"`
	Address            string          `json:"address"`
	ArrivalWindowHours int             `json:"arrival_window_hours"`
	EstimatedPrice     decimal.Decimal `json:"estimated_price"`
	DistanceKm         float64         `json:"distance_km"`
	ExpiresAt          string          `json:"expires_at"`
}

type AvailableJobsResponse struct {
	Jobs []AvailableJobDTO `json:"jobs"`
}

func FromAvailableOffer(a domain.AvailableOffer) AvailableJobDTO {
	return AvailableJobDTO{
		JobID:              a.Job.JobID,
		Title:              a.Job.Title,
		Description:        a.Job.Description,
		CategoryID:         a.Job.CategoryID,
		Address:            a.Job.Address,
		ArrivalWindowHours: a.Job.ArrivalWindowHours,
		EstimatedPrice:     a.Job.EstimatedPrice,
		DistanceKm:         a.Offer.DistanceKm,
		ExpiresAt:          FormatTime(a.Offer.ExpiresAt),
	}
}
