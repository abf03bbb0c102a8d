package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = &NotFoundError{Resource: "job"}

	// ErrJobExists is returned when creating a job whose id is already taken
	ErrJobExists = errors.New("job already exists")

	// ErrInvariantViolation is returned by the store when a transition would break a job/offer invariant
	ErrInvariantViolation = errors.New("job/offer invariant violation")
)

// ValidationError names the first missing or malformed field of a request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error for field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError is returned for an unknown job or offer
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is matches any NotFoundError for the same resource, so the ErrJobNotFound
// sentinel works with errors.Is regardless of the id carried.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == e.Resource && (t.ID == "" || t.ID == e.ID)
}

// ConflictError is returned when an offer was already resolved by another provider
// or the job is no longer open
type ConflictError struct {
	JobID  string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s: %s", e.JobID, e.Reason)
}

// ExpiredOfferError is returned when an offer is past its TTL or no longer pending
type ExpiredOfferError struct {
	JobID      string
	ProviderID string
}

func (e *ExpiredOfferError) Error() string {
	return fmt.Sprintf("offer for job %s to provider %s has expired", e.JobID, e.ProviderID)
}

// DeliveryFailure wraps transient notification delivery errors that should be retried
type DeliveryFailure struct {
	EventID string
	Err     error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery of event %s failed: %v", e.EventID, e.Err)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient delivery failure
func IsRetryable(err error) bool {
	var df *DeliveryFailure
	return errors.As(err, &df)
}
