package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// Store is the job/offer store. Every mutation of an existing job goes
// through Update, which runs fn under the job's mutual exclusion and commits
// the resulting state atomically.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*JobState, error)
	Update(ctx context.Context, jobID string, fn func(*JobState) error) error
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	ListAvailableOffers(ctx context.Context, providerID string, now time.Time) ([]domain.AvailableOffer, error)
	ListOverdueOffers(ctx context.Context, now time.Time, limit int) ([]domain.OfferKey, error)
	ListOverdueJobs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListStalePostedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
	Close() error
}

// JobFilter selects a customer's jobs, newest first
type JobFilter struct {
	CustomerID string
	Status     string
	PageSize   int
	Cursor     *JobCursor
}

// JobCursor is the keyset position of the last job of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobState is a consistent snapshot of a job and all of its offers
type JobState struct {
	Job    domain.Job
	Offers []domain.Offer
}

// Offer returns the offer made to providerID, or nil.
func (s *JobState) Offer(providerID string) *domain.Offer {
	for i := range s.Offers {
		if s.Offers[i].ProviderID == providerID {
			return &s.Offers[i]
		}
	}
	return nil
}

// AddOffer appends a new offer. It returns false when the provider already
// has an offer for this job.
func (s *JobState) AddOffer(o domain.Offer) bool {
	if s.Offer(o.ProviderID) != nil {
		return false
	}
	s.Offers = append(s.Offers, o)
	return true
}

// PendingCount returns the number of offers still awaiting an answer.
func (s *JobState) PendingCount() int {
	n := 0
	for i := range s.Offers {
		if s.Offers[i].IsPending() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (s *JobState) Clone() *JobState {
	c := &JobState{Job: s.Job, Offers: make([]domain.Offer, len(s.Offers))}
	copy(c.Offers, s.Offers)
	for i := range c.Offers {
		if t := c.Offers[i].RespondedAt; t != nil {
			at := *t
			c.Offers[i].RespondedAt = &at
		}
	}
	return c
}

// checkTransition verifies that next is a legal successor of prev: statuses
// only move forward, no offer disappears, at most one offer is accepted, and
// the accepted provider is set exactly when the job is booked.
func checkTransition(prev, next *JobState) error {
	if prev.Job.JobID != next.Job.JobID {
		return fmt.Errorf("%w: job id changed", domain.ErrInvariantViolation)
	}
	if !prev.Job.Status.CanTransition(next.Job.Status) {
		return fmt.Errorf("%w: job %s cannot move %s -> %s", domain.ErrInvariantViolation, next.Job.JobID, prev.Job.Status, next.Job.Status)
	}
	if (next.Job.AcceptedProviderID != "") != (next.Job.Status == domain.JobStatusBooked) {
		return fmt.Errorf("%w: accepted provider must be set iff job is booked", domain.ErrInvariantViolation)
	}
	if len(next.Offers) < len(prev.Offers) {
		return fmt.Errorf("%w: offers cannot be removed", domain.ErrInvariantViolation)
	}

	accepted := 0
	for i := range next.Offers {
		o := &next.Offers[i]
		if o.JobID != next.Job.JobID {
			return fmt.Errorf("%w: offer belongs to job %s", domain.ErrInvariantViolation, o.JobID)
		}
		if i < len(prev.Offers) {
			p := &prev.Offers[i]
			if p.ProviderID != o.ProviderID {
				return fmt.Errorf("%w: offers cannot be reordered", domain.ErrInvariantViolation)
			}
			if p.Status != o.Status && p.Status != domain.OfferStatusPending {
				return fmt.Errorf("%w: offer for %s cannot leave %s", domain.ErrInvariantViolation, o.ProviderID, p.Status)
			}
		}
		if o.Status == domain.OfferStatusAccepted {
			accepted++
			if o.ProviderID != next.Job.AcceptedProviderID {
				return fmt.Errorf("%w: accepted offer does not match booked provider", domain.ErrInvariantViolation)
			}
		}
	}
	if accepted > 1 {
		return fmt.Errorf("%w: %d accepted offers", domain.ErrInvariantViolation, accepted)
	}
	if next.Job.Status == domain.JobStatusBooked && accepted != 1 {
		return fmt.Errorf("%w: booked job without an accepted offer", domain.ErrInvariantViolation)
	}
	return nil
}
