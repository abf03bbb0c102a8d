package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType tags the payload carried by an Event
type EventType string

// Event types
const (
	TypeNewJobAvailable EventType = "new_job_available"
	TypeJobTaken        EventType = "job_taken"
	TypeJobAccepted     EventType = "job_accepted"
	TypeJobUpdate       EventType = "job_update"
)

// Reason values carried by JobUpdate
const (
	ReasonNoProviderFound = "no_provider_found"
	ReasonOffersExpired   = "offers_expired"
	ReasonCustomer        = "cancelled_by_customer"
)

// Payload is implemented by every typed event body
type Payload interface {
	Type() EventType
}

// NewJobAvailable is pushed to each provider that received an offer
type NewJobAvailable struct {
	JobID          string          `json:"job_id"`
	Title          string          `json:"title"`
	CategoryID     string          `json:"category_id"`
	DistanceKm     float64         `json:"distance_km"`
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// JobTaken tells a provider that another provider booked the job
type JobTaken struct {
	JobID string `json:"job_id"`
}

// JobAccepted tells the customer which provider booked the job
type JobAccepted struct {
	JobID        string `json:"job_id"`
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
}

// JobUpdate reports a non-acceptance terminal state
type JobUpdate struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (NewJobAvailable) Type() EventType { return TypeNewJobAvailable }
func (JobTaken) Type() EventType        { return TypeJobTaken }
func (JobAccepted) Type() EventType     { return TypeJobAccepted }
func (JobUpdate) Type() EventType       { return TypeJobUpdate }

// Event is an immutable notification addressed to one user
type Event struct {
	ID           string
	Type         EventType
	JobID        string
	TargetUserID string
	Timestamp    time.Time
	Payload      Payload
}

// NewEvent creates an event with a fresh id
func NewEvent(targetUserID, jobID string, payload Payload, at time.Time) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         payload.Type(),
		JobID:        jobID,
		TargetUserID: targetUserID,
		Timestamp:    at,
		Payload:      payload,
	}
}

type wireEvent struct {
	ID           string          `json:"id"`
	Type         EventType       `json:"type"`
	JobID        string          `json:"job_id"`
	Timestamp    time.Time       `json:"timestamp"`
	TargetUserID string          `json:"target_user_id"`
	Payload      json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		ID:           e.ID,
		Type:         e.Type,
		JobID:        e.JobID,
		Timestamp:    e.Timestamp,
		TargetUserID: e.TargetUserID,
		Payload:      payload,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var p Payload
	switch w.Type {
	case TypeNewJobAvailable:
		var v NewJobAvailable
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case TypeJobTaken:
		var v JobTaken
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case TypeJobAccepted:
		var v JobAccepted
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case TypeJobUpdate:
		var v JobUpdate
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}

	*e = Event{
		ID:           w.ID,
		Type:         w.Type,
		JobID:        w.JobID,
		TargetUserID: w.TargetUserID,
		Timestamp:    w.Timestamp,
		Payload:      p,
	}
	return nil
}

// Notifier delivers events to their target users. Publish must not block
// on network I/O.
type Notifier interface {
	Publish(ev Event)
}
