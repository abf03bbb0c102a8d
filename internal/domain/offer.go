package domain

import "time"

// OfferStatus is the lifecycle state of a single provider offer
type OfferStatus string

// Offer status constants
const (
	OfferStatusPending  OfferStatus = "PENDING"
	OfferStatusAccepted OfferStatus = "ACCEPTED"
	OfferStatusDeclined OfferStatus = "DECLINED"
	OfferStatusExpired  OfferStatus = "EXPIRED"
)

// DeclineReason records who or what declined an offer
type DeclineReason string

// Decline reasons
const (
	DeclineByProvider   DeclineReason = "provider"
	DeclineJobTaken     DeclineReason = "job_taken"
	DeclineJobCancelled DeclineReason = "job_cancelled"
)

// Offer is a time-boxed invitation for one provider to accept one job
type Offer struct {
	JobID         string
	ProviderID    string
	DistanceKm    float64
	Status        OfferStatus
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RespondedAt   *time.Time
	DeclineReason DeclineReason
}

// NewOffer creates a pending offer valid for exactly OfferTTL.
func NewOffer(jobID, providerID string, distanceKm float64, now time.Time) Offer {
	return Offer{
		JobID:      jobID,
		ProviderID: providerID,
		DistanceKm: distanceKm,
		Status:     OfferStatusPending,
		IssuedAt:   now,
		ExpiresAt:  now.Add(OfferTTL),
	}
}

// IsPending reports whether the offer can still be answered.
func (o *Offer) IsPending() bool { return o.Status == OfferStatusPending }

// Resolve moves a pending offer to a terminal status. It is a no-op and
// returns false when the offer is already terminal.
func (o *Offer) Resolve(status OfferStatus, reason DeclineReason, at time.Time) bool {
	if o.Status != OfferStatusPending || status == OfferStatusPending {
		return false
	}
	o.Status = status
	o.DeclineReason = reason
	o.RespondedAt = &at
	return true
}

// OfferKey identifies an offer
type OfferKey struct {
	JobID      string
	ProviderID string
}

// AvailableOffer is the provider-facing projection of a pending offer and its job
type AvailableOffer struct {
	Offer Offer
	Job   Job
}
