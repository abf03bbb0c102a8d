package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// CreateJobRequest is the body of POST /api/v1/jobs/quick-book. Required
// fields are checked by the intake service so errors name the first bad field.
type CreateJobRequest struct {
	CategoryID         string   `json:"category_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Address            string   `json:"address"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	ArrivalWindowHours *int     `json:"arrival_window_hours"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	HasMore    bool     `json:"has_more"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID              string          `json:"job_id"`
	CustomerID         string          `json:"customer_id"`
	CategoryID         string          `json:"category_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Latitude           float64         `json:"latitude"`
	Longitude          float64         `json:"longitude"`
	Address            string          `json:"address"`
	ArrivalWindowHours int             `json:"arrival_window_hours"`
	EstimatedPrice     decimal.Decimal `json:"estimated_price"`
	Status             string          `json:"status"`
	AcceptedProviderID *string         `json:"accepted_provider_id"`
	AcceptDeadline     string          `json:"accept_deadline"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
	Offers             []OfferDTO      `json:"offers,omitempty"`
}

// FormatTime renders timestamps in UTC with sub-second precision
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FromJob maps a domain job to its wire shape
func FromJob(j domain.Job) JobDTO {
	out := JobDTO{
		JobID:              j.JobID,
		CustomerID:         j.CustomerID,
		CategoryID:         j.CategoryID,
		Title:              j.Title,
		Description:        j.Description,
		Latitude:           j.Location.Lat,
		Longitude:          j.Location.Lng,
		Address:            j.Address,
		ArrivalWindowHours: j.ArrivalWindowHours,
		EstimatedPrice:     j.EstimatedPrice,
		Status:             string(j.Status),
		AcceptDeadline:     FormatTime(j.AcceptDeadline),
		CreatedAt:          FormatTime(j.CreatedAt),
		UpdatedAt:          FormatTime(j.UpdatedAt),
	}
	if j.AcceptedProviderID != "" {
		id := j.AcceptedProviderID
		out.AcceptedProviderID = &id
	}
	return out
}
