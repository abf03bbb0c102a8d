package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
)

// ProviderDirectory resolves provider display names
type ProviderDirectory interface {
	ProviderName(providerID string) string
}

// Arbiter resolves offers. Accept, Decline, ExpireOffer, ExpireJob and
// Cancel are competing writers; each runs as one store.Update so exactly
// one of them wins any race on a job.
type Arbiter struct {
	store     store.Store
	providers ProviderDirectory
	notifier  notify.Notifier
	clock     clockwork.Clock
	timers    *timerSet
	locks     *jobLocks
	logger    *slog.Logger

	// timerTimeout bounds the store call made by a firing timer.
	timerTimeout time.Duration
}

// NewArbiter creates a new Arbiter
func NewArbiter(st store.Store, providers ProviderDirectory, notifier notify.Notifier, clock clockwork.Clock, logger *slog.Logger) *Arbiter {
	return &Arbiter{
		store:        st,
		providers:    providers,
		notifier:     notifier,
		clock:        clock,
		timers:       newTimerSet(clock),
		locks:        newJobLocks(),
		logger:       logger,
		timerTimeout: 5 * time.Second,
	}
}

func offerNotFound(jobID, providerID string) error {
	return &domain.NotFoundError{Resource: "offer", ID: fmt.Sprintf("%s/%s", jobID, providerID)}
}

// Accept books the job for providerID when its offer is still pending and
// unexpired. Accepting an already won job again returns it unchanged.
func (a *Arbiter) Accept(ctx context.Context, jobID, providerID string) (domain.Job, error) {
	unlock := a.locks.lock(jobID)
	defer unlock()

	now := a.clock.Now()

	var (
		job     domain.Job
		losers  []string
		already bool
	)
	err := a.store.Update(ctx, jobID, func(st *store.JobState) error {
		losers, already = nil, false

		offer := st.Offer(providerID)
		if offer == nil {
			return offerNotFound(jobID, providerID)
		}

		switch st.Job.Status {
		case domain.JobStatusBooked:
			if st.Job.AcceptedProviderID == providerID {
				already = true
				job = st.Job
				return nil
			}
			return &domain.ConflictError{JobID: jobID, Reason: "job already booked by another provider"}
		case domain.JobStatusCancelled:
			return &domain.ConflictError{JobID: jobID, Reason: "job was cancelled"}
		case domain.JobStatusExpired:
			return &domain.ExpiredOfferError{JobID: jobID, ProviderID: providerID}
		}

		if !offer.IsPending() || now.After(offer.ExpiresAt) {
			return &domain.ExpiredOfferError{JobID: jobID, ProviderID: providerID}
		}

		offer.Resolve(domain.OfferStatusAccepted, "", now)
		st.Job.Status = domain.JobStatusBooked
		st.Job.AcceptedProviderID = providerID
		st.Job.UpdatedAt = now

		for i := range st.Offers {
			o := &st.Offers[i]
			if o.ProviderID != providerID && o.Resolve(domain.OfferStatusDeclined, domain.DeclineJobTaken, now) {
				losers = append(losers, o.ProviderID)
			}
		}
		job = st.Job
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	if already {
		return job, nil
	}

	a.timers.stopJob(jobID)

	a.logger.Info("Offer accepted",
		slog.String("job_id", jobID),
		slog.String("provider_id", providerID),
		slog.Int("declined", len(losers)),
	)

	a.notifier.Publish(notify.NewEvent(job.CustomerID, jobID, notify.JobAccepted{
		JobID:        jobID,
		ProviderID:   providerID,
		ProviderName: a.providers.ProviderName(providerID),
	}, now))
	for _, p := range losers {
		a.notifier.Publish(notify.NewEvent(p, jobID, notify.JobTaken{JobID: jobID}, now))
	}

	return job, nil
}

// Decline records the provider's refusal and returns the offer's status
// afterwards. The job is unaffected and a decline of an offer that is no
// longer pending is a no-op reporting the status it already had.
func (a *Arbiter) Decline(ctx context.Context, jobID, providerID string) (domain.OfferStatus, error) {
	now := a.clock.Now()

	var (
		declined bool
		status   domain.OfferStatus
	)
	err := a.store.Update(ctx, jobID, func(st *store.JobState) error {
		offer := st.Offer(providerID)
		if offer == nil {
			return offerNotFound(jobID, providerID)
		}
		declined = offer.Resolve(domain.OfferStatusDeclined, domain.DeclineByProvider, now)
		status = offer.Status
		return nil
	})
	if err != nil {
		return "", err
	}

	if declined {
		a.timers.stopOffer(jobID, providerID)
		a.logger.Info("Offer declined",
			slog.String("job_id", jobID),
			slog.String("provider_id", providerID),
		)
	}
	return status, nil
}

// ExpireOffer moves a pending offer past its expiry to EXPIRED. When it was
// the job's last pending offer the job expires as well.
func (a *Arbiter) ExpireOffer(ctx context.Context, jobID, providerID string) error {
	unlock := a.locks.lock(jobID)
	defer unlock()

	now := a.clock.Now()

	var (
		expired    bool
		jobExpired bool
		customerID string
	)
	err := a.store.Update(ctx, jobID, func(st *store.JobState) error {
		expired, jobExpired = false, false

		offer := st.Offer(providerID)
		if offer == nil {
			return offerNotFound(jobID, providerID)
		}
		if now.Before(offer.ExpiresAt) || !offer.Resolve(domain.OfferStatusExpired, "", now) {
			return nil
		}
		expired = true

		if st.PendingCount() == 0 && st.Job.Status.IsOpen() {
			st.Job.Status = domain.JobStatusExpired
			st.Job.UpdatedAt = now
			jobExpired = true
			customerID = st.Job.CustomerID
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !expired {
		return nil
	}

	a.timers.stopOffer(jobID, providerID)
	a.logger.Info("Offer expired",
		slog.String("job_id", jobID),
		slog.String("provider_id", providerID),
	)

	if jobExpired {
		a.timers.stopJob(jobID)
		a.notifier.Publish(expiredEvent(customerID, jobID, notify.ReasonOffersExpired, now))
	}
	return nil
}

// ExpireJob closes an open job whose accept deadline passed, expiring every
// offer still pending.
func (a *Arbiter) ExpireJob(ctx context.Context, jobID string) error {
	unlock := a.locks.lock(jobID)
	defer unlock()

	now := a.clock.Now()

	var (
		expired    bool
		customerID string
		hadOffers  bool
	)
	err := a.store.Update(ctx, jobID, func(st *store.JobState) error {
		expired = false
		if !st.Job.Status.IsOpen() || now.Before(st.Job.AcceptDeadline) {
			return nil
		}
		for i := range st.Offers {
			st.Offers[i].Resolve(domain.OfferStatusExpired, "", now)
		}
		st.Job.Status = domain.JobStatusExpired
		st.Job.UpdatedAt = now

		expired = true
		customerID = st.Job.CustomerID
		hadOffers = len(st.Offers) > 0
		return nil
	})
	if err != nil {
		return err
	}

	if !expired {
		return nil
	}
	a.timers.stopJob(jobID)

	a.logger.Info("Job expired",
		slog.String("job_id", jobID),
		slog.Bool("had_offers", hadOffers),
	)

	reason := notify.ReasonOffersExpired
	if !hadOffers {
		reason = notify.ReasonNoProviderFound
	}
	a.notifier.Publish(expiredEvent(customerID, jobID, reason, now))
	return nil
}

// Cancel withdraws an open job on behalf of its customer. Cancelling twice
// returns the cancelled job; cancelling a booked or expired job conflicts.
func (a *Arbiter) Cancel(ctx context.Context, jobID, customerID string) (domain.Job, error) {
	unlock := a.locks.lock(jobID)
	defer unlock()

	now := a.clock.Now()

	var (
		job       domain.Job
		providers []string
		already   bool
	)
	err := a.store.Update(ctx, jobID, func(st *store.JobState) error {
		providers, already = nil, false

		if st.Job.CustomerID != customerID {
			return &domain.NotFoundError{Resource: "job", ID: jobID}
		}

		switch st.Job.Status {
		case domain.JobStatusCancelled:
			already = true
			job = st.Job
			return nil
		case domain.JobStatusBooked:
			return &domain.ConflictError{JobID: jobID, Reason: "job already booked"}
		case domain.JobStatusExpired:
			return &domain.ConflictError{JobID: jobID, Reason: "job already expired"}
		}

		for i := range st.Offers {
			o := &st.Offers[i]
			o.Resolve(domain.OfferStatusDeclined, domain.DeclineJobCancelled, now)
			providers = append(providers, o.ProviderID)
		}
		st.Job.Status = domain.JobStatusCancelled
		st.Job.UpdatedAt = now
		job = st.Job
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	if already {
		return job, nil
	}

	a.timers.stopJob(jobID)

	a.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
		slog.String("customer_id", customerID),
		slog.Int("notified_providers", len(providers)),
	)

	for _, p := range providers {
		a.notifier.Publish(notify.NewEvent(p, jobID, notify.JobUpdate{
			JobID:  jobID,
			Status: string(domain.JobStatusCancelled),
			Reason: notify.ReasonCustomer,
		}, now))
	}
	return job, nil
}

// AvailableOffers lists the provider's pending, unexpired offers, nearest first.
func (a *Arbiter) AvailableOffers(ctx context.Context, providerID string) ([]domain.AvailableOffer, error) {
	return a.store.ListAvailableOffers(ctx, providerID, a.clock.Now())
}

func expiredEvent(customerID, jobID, reason string, at time.Time) notify.Event {
	return notify.NewEvent(customerID, jobID, notify.JobUpdate{
		JobID:  jobID,
		Status: string(domain.JobStatusExpired),
		Reason: reason,
	}, at)
}

// armOffer schedules the expiry of a pending offer
func (a *Arbiter) armOffer(o domain.Offer) {
	jobID, providerID := o.JobID, o.ProviderID
	a.timers.scheduleOffer(jobID, providerID, o.ExpiresAt, func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timerTimeout)
		defer cancel()
		if err := a.ExpireOffer(ctx, jobID, providerID); err != nil {
			a.logger.Error("Failed to expire offer",
				slog.String("job_id", jobID),
				slog.String("provider_id", providerID),
				slog.Any("error", err),
			)
		}
	})
}

// armGovernor schedules the job-level timeout at the accept deadline
func (a *Arbiter) armGovernor(jobID string, deadline time.Time) {
	a.timers.scheduleGovernor(jobID, deadline, func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timerTimeout)
		defer cancel()
		if err := a.ExpireJob(ctx, jobID); err != nil {
			a.logger.Error("Failed to expire job",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	})
}
