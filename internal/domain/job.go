package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// OfferTTL is the fixed validity window of every offer.
const OfferTTL = 30 * time.Second

// JobStatus is the lifecycle state of a quick-book job
type JobStatus string

// Job status constants
const (
	JobStatusPosted    JobStatus = "POSTED"
	JobStatusOffered   JobStatus = "OFFERED"
	JobStatusBooked    JobStatus = "BOOKED"
	JobStatusExpired   JobStatus = "EXPIRED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// jobTransitions lists every allowed (from -> to) pair. Terminal states have no entry.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPosted:  {JobStatusOffered, JobStatusBooked, JobStatusExpired, JobStatusCancelled},
	JobStatusOffered: {JobStatusBooked, JobStatusExpired, JobStatusCancelled},
}

// ParseJobStatus converts a raw string to a JobStatus.
func ParseJobStatus(s string) (JobStatus, bool) {
	st := JobStatus(s)
	switch st {
	case JobStatusPosted, JobStatusOffered, JobStatusBooked, JobStatusExpired, JobStatusCancelled:
		return st, true
	}
	return "", false
}

// CanTransition reports whether moving from -> to is a forward step.
// Staying in the same state is always allowed.
func (from JobStatus) CanTransition(to JobStatus) bool {
	if from == to {
		return true
	}
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusBooked || s == JobStatusExpired || s == JobStatusCancelled
}

// IsOpen reports whether the job can still be booked.
func (s JobStatus) IsOpen() bool {
	return s == JobStatusPosted || s == JobStatusOffered
}

// Location is a WGS84 coordinate pair
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates are finite and within range.
func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) || math.IsInf(l.Lat, 0) || math.IsInf(l.Lng, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Job is a quick-book service request
type Job struct {
	JobID              string
	CustomerID         string
	CategoryID         string
	Title              string
	Description        string
	Location           Location
	Address            string
	ArrivalWindowHours int
	EstimatedPrice     decimal.Decimal
	Status             JobStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
	AcceptDeadline     time.Time
	AcceptedProviderID string
}
