package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
	"github.com/cuongbtq/quickbook-dispatch/internal/proximity"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
)

// ProviderFinder returns the eligible providers for a job
type ProviderFinder interface {
	FindEligible(ctx context.Context, loc domain.Location, categoryID string, radiusKm float64) ([]proximity.Candidate, error)
}

// BroadcastResult summarizes one broadcast
type BroadcastResult struct {
	// Offered is the number of offers created by this broadcast.
	Offered int
	// Expired is set when the job expired because nobody was eligible.
	Expired bool
}

// Broadcaster offers a job to every eligible provider nearby
type Broadcaster struct {
	store    store.Store
	finder   ProviderFinder
	notifier notify.Notifier
	arbiter  *Arbiter
	timers   *timerSet
	locks    *jobLocks
	clock    clockwork.Clock
	radiusKm float64
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster whose offers are resolved by arbiter
func NewBroadcaster(st store.Store, finder ProviderFinder, notifier notify.Notifier, arbiter *Arbiter, clock clockwork.Clock, radiusKm float64, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		store:    st,
		finder:   finder,
		notifier: notifier,
		arbiter:  arbiter,
		timers:   arbiter.timers,
		locks:    arbiter.locks,
		clock:    clock,
		radiusKm: radiusKm,
		logger:   logger,
	}
}

// Broadcast creates one offer per eligible provider that has none yet and
// pushes new_job_available to each of them. A terminal job is left alone;
// a job nobody can take expires.
func (b *Broadcaster) Broadcast(ctx context.Context, jobID string) (BroadcastResult, error) {
	current, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		return BroadcastResult{}, err
	}
	if current.Job.Status.IsTerminal() {
		b.logger.Debug("Skipping broadcast of closed job",
			slog.String("job_id", jobID),
			slog.String("status", string(current.Job.Status)),
		)
		return BroadcastResult{}, nil
	}

	candidates, err := b.finder.FindEligible(ctx, current.Job.Location, current.Job.CategoryID, b.radiusKm)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("failed to find providers for job %s: %w", jobID, err)
	}

	unlock := b.locks.lock(jobID)
	defer unlock()

	now := b.clock.Now()

	var (
		job       domain.Job
		newOffers []domain.Offer
		expired   bool
	)
	err = b.store.Update(ctx, jobID, func(st *store.JobState) error {
		newOffers, expired = nil, false
		job = st.Job
		if st.Job.Status.IsTerminal() {
			return nil
		}

		for _, c := range candidates {
			o := domain.NewOffer(jobID, c.ProviderID, c.DistanceKm, now)
			if st.AddOffer(o) {
				newOffers = append(newOffers, o)
			}
		}

		if len(st.Offers) == 0 {
			st.Job.Status = domain.JobStatusExpired
			st.Job.UpdatedAt = now
			expired = true
			job = st.Job
			return nil
		}

		if len(newOffers) > 0 {
			st.Job.Status = domain.JobStatusOffered
			if deadline := now.Add(domain.OfferTTL); deadline.After(st.Job.AcceptDeadline) {
				st.Job.AcceptDeadline = deadline
			}
			st.Job.UpdatedAt = now
		}
		job = st.Job
		return nil
	})
	if err != nil {
		return BroadcastResult{}, err
	}

	if expired {
		b.timers.stopJob(jobID)
		b.logger.Info("No provider available, job expired",
			slog.String("job_id", jobID),
		)
		b.notifier.Publish(expiredEvent(job.CustomerID, jobID, notify.ReasonNoProviderFound, now))
		return BroadcastResult{Expired: true}, nil
	}
	if job.Status.IsTerminal() || len(newOffers) == 0 {
		return BroadcastResult{}, nil
	}

	for _, o := range newOffers {
		b.arbiter.armOffer(o)
	}
	b.arbiter.armGovernor(jobID, job.AcceptDeadline)

	for _, o := range newOffers {
		b.notifier.Publish(notify.NewEvent(o.ProviderID, jobID, notify.NewJobAvailable{
			JobID:          jobID,
			Title:          job.Title,
			CategoryID:     job.CategoryID,
			DistanceKm:     o.DistanceKm,
			EstimatedPrice: job.EstimatedPrice,
			ExpiresAt:      o.ExpiresAt,
		}, now))
	}

	b.announceOutcomes(ctx, jobID, newOffers, now)

	b.logger.Info("Job broadcast",
		slog.String("job_id", jobID),
		slog.Int("candidates", len(candidates)),
		slog.Int("new_offers", len(newOffers)),
	)

	return BroadcastResult{Offered: len(newOffers)}, nil
}

// announceOutcomes re-reads the job after its offers went out and tells each
// new provider whose offer was already resolved by another process how it
// ended. Outcomes decided in this process wait on the job lock instead.
func (b *Broadcaster) announceOutcomes(ctx context.Context, jobID string, offers []domain.Offer, now time.Time) {
	current, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		b.logger.Warn("Failed to re-read broadcast job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}

	for _, o := range offers {
		offer := current.Offer(o.ProviderID)
		if offer == nil || offer.Status != domain.OfferStatusDeclined {
			continue
		}
		switch offer.DeclineReason {
		case domain.DeclineJobTaken:
			b.notifier.Publish(notify.NewEvent(o.ProviderID, jobID, notify.JobTaken{JobID: jobID}, now))
		case domain.DeclineJobCancelled:
			b.notifier.Publish(notify.NewEvent(o.ProviderID, jobID, notify.JobUpdate{
				JobID:  jobID,
				Status: string(domain.JobStatusCancelled),
				Reason: notify.ReasonCustomer,
			}, now))
		}
	}
}
