// Package sweeper runs the periodic backstop for dispatch: it expires offers
// and jobs whose timers were lost, re-dispatches jobs stuck in POSTED, and
// performs hub and price maintenance.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/quickbook-dispatch/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Expirer closes overdue offers and jobs
type Expirer interface {
	ExpireOffer(ctx context.Context, jobID, providerID string) error
	ExpireJob(ctx context.Context, jobID string) error
}

// Dispatcher re-enqueues a job for broadcast
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Pruner drops delivered events that fell out of the replay window
type Pruner interface {
	Prune(now time.Time) int
}

// Recomputer rebuilds price guidance over the rolling window
type Recomputer interface {
	RecomputeAll(now time.Time)
}

// Config holds the cron specs and batch limits
type Config struct {
	ExpirySpec      string
	RedispatchSpec  string
	MaintenanceSpec string
	// StaleAfter is how long a job may stay POSTED before it is re-enqueued
	StaleAfter time.Duration
	BatchSize  int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ExpirySpec == "" {
		out.ExpirySpec = "@every 5s"
	}
	if out.RedispatchSpec == "" {
		out.RedispatchSpec = "@every 30s"
	}
	if out.MaintenanceSpec == "" {
		out.MaintenanceSpec = "@every 1m"
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = 15 * time.Second
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 500
	}
	return out
}

// Sweeper wraps robfig/cron and owns the backstop jobs
type Sweeper struct {
	cron       *cron.Cron
	store      store.Store
	expirer    Expirer
	dispatcher Dispatcher
	hub        Pruner
	prices     Recomputer
	clock      clockwork.Clock
	config     Config
	logger     *slog.Logger
}

// New creates a Sweeper. hub and prices may be nil.
func New(st store.Store, expirer Expirer, dispatcher Dispatcher, hub Pruner, prices Recomputer, clock clockwork.Clock, config Config, logger *slog.Logger) *Sweeper {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &Sweeper{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		store:      st,
		expirer:    expirer,
		dispatcher: dispatcher,
		hub:        hub,
		prices:     prices,
		clock:      clock,
		config:     config.withDefaults(),
		logger:     logger,
	}
}

// Start registers the sweeps and starts the scheduler
func (s *Sweeper) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		run  func()
	}{
		{s.config.ExpirySpec, func() { s.runExpiry(ctx) }},
		{s.config.RedispatchSpec, func() { s.runRedispatch(ctx) }},
		{s.config.MaintenanceSpec, func() { s.Maintain() }},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.run); err != nil {
			return fmt.Errorf("cron.AddFunc %q: %w", j.spec, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Sweeper started",
		slog.String("expiry", s.config.ExpirySpec),
		slog.String("redispatch", s.config.RedispatchSpec),
		slog.String("maintenance", s.config.MaintenanceSpec),
	)
	return nil
}

// Stop stops the scheduler and waits for running sweeps to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) runExpiry(ctx context.Context) {
	offers, jobs, err := s.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Expiry sweep failed", slog.Any("error", err))
		return
	}
	if offers+jobs > 0 {
		s.logger.Info("Expiry sweep closed overdue work",
			slog.Int("offers", offers),
			slog.Int("jobs", jobs),
		)
	}
}

func (s *Sweeper) runRedispatch(ctx context.Context) {
	n, err := s.RedispatchStale(ctx)
	if err != nil {
		s.logger.Error("Redispatch sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Info("Re-enqueued stale jobs", slog.Int("count", n))
	}
}

// SweepExpired expires every pending offer and open job whose deadline has
// passed. Items already resolved by a timer or a provider are no-ops.
func (s *Sweeper) SweepExpired(ctx context.Context) (offers, jobs int, err error) {
	now := s.clock.Now()

	keys, err := s.store.ListOverdueOffers(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list overdue offers: %w", err)
	}
	for _, k := range keys {
		if err := s.expirer.ExpireOffer(ctx, k.JobID, k.ProviderID); err != nil {
			s.logger.Warn("Failed to expire offer",
				slog.String("job_id", k.JobID),
				slog.String("provider_id", k.ProviderID),
				slog.Any("error", err),
			)
			continue
		}
		offers++
	}

	ids, err := s.store.ListOverdueJobs(ctx, now, s.config.BatchSize)
	if err != nil {
		return offers, 0, fmt.Errorf("failed to list overdue jobs: %w", err)
	}
	for _, id := range ids {
		if err := s.expirer.ExpireJob(ctx, id); err != nil {
			s.logger.Warn("Failed to expire job",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
			continue
		}
		jobs++
	}
	return offers, jobs, nil
}

// RedispatchStale re-enqueues jobs that stayed POSTED longer than StaleAfter,
// which happens when the enqueue after intake failed.
func (s *Sweeper) RedispatchStale(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.config.StaleAfter)

	ids, err := s.store.ListStalePostedJobs(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	n := 0
	for _, id := range ids {
		if err := s.dispatcher.Enqueue(ctx, id); err != nil {
			s.logger.Warn("Failed to re-enqueue job",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
			continue
		}
		n++
	}
	return n, nil
}

// Maintain prunes the notification log and recomputes price guidance
func (s *Sweeper) Maintain() {
	now := s.clock.Now()
	if s.hub != nil {
		if n := s.hub.Prune(now); n > 0 {
			s.logger.Debug("Pruned delivered events", slog.Int("count", n))
		}
	}
	if s.prices != nil {
		s.prices.RecomputeAll(now)
	}
}
