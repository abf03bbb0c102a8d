package intake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/pricing"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
)

// Dispatcher schedules the broadcast of a newly created job
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
}

// PriceGuide supplies the displayed estimate
type PriceGuide interface {
	Guidance(categoryID string) pricing.Guidance
}

// Config holds intake defaults
type Config struct {
	DefaultArrivalWindowHours int
	MaxArrivalWindowHours     int
}

// CreateJobRequest is the customer's quick-book request. Coordinates and the
// arrival window are pointers so a missing value can be told from zero.
type CreateJobRequest struct {
	CategoryID         string
	Title              string
	Description        string
	Address            string
	Latitude           *float64
	Longitude          *float64
	ArrivalWindowHours *int
}

// Service validates and creates quick-book jobs
type Service struct {
	store      store.Store
	prices     PriceGuide
	dispatcher Dispatcher
	clock      clockwork.Clock
	config     Config
	logger     *slog.Logger
}

// NewService creates a new intake Service
func NewService(st store.Store, prices PriceGuide, dispatcher Dispatcher, clock clockwork.Clock, config Config, logger *slog.Logger) *Service {
	if config.DefaultArrivalWindowHours <= 0 {
		config.DefaultArrivalWindowHours = 2
	}
	if config.MaxArrivalWindowHours <= 0 {
		config.MaxArrivalWindowHours = 72
	}
	return &Service{
		store:      st,
		prices:     prices,
		dispatcher: dispatcher,
		clock:      clock,
		config:     config,
		logger:     logger,
	}
}

// CreateJob validates req, stores a POSTED job priced at the category's p50
// and enqueues its broadcast. An enqueue failure is logged, not returned:
// the job is durable and the sweeper re-enqueues stale POSTED jobs.
func (s *Service) CreateJob(ctx context.Context, customerID string, req CreateJobRequest) (domain.Job, error) {
	if err := s.validate(customerID, &req); err != nil {
		return domain.Job{}, err
	}

	window := s.config.DefaultArrivalWindowHours
	if req.ArrivalWindowHours != nil {
		window = *req.ArrivalWindowHours
	}

	now := s.clock.Now()
	job := domain.Job{
		JobID:              uuid.NewString(),
		CustomerID:         customerID,
		CategoryID:         req.CategoryID,
		Title:              strings.TrimSpace(req.Title),
		Description:        strings.TrimSpace(req.Description),
		Location:           domain.Location{Lat: *req.Latitude, Lng: *req.Longitude},
		Address:            strings.TrimSpace(req.Address),
		ArrivalWindowHours: window,
		EstimatedPrice:     s.prices.Guidance(req.CategoryID).P50,
		Status:             domain.JobStatusPosted,
		CreatedAt:          now,
		UpdatedAt:          now,
		AcceptDeadline:     now.Add(domain.OfferTTL),
	}

	if err := s.store.CreateJob(ctx, &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("customer_id", customerID),
		slog.String("category_id", job.CategoryID),
		slog.String("estimated_price", job.EstimatedPrice.String()),
	)

	if err := s.dispatcher.Enqueue(ctx, job.JobID); err != nil {
		s.logger.Error("Failed to enqueue dispatch, sweeper will retry",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	return job, nil
}

func (s *Service) validate(customerID string, req *CreateJobRequest) error {
	switch {
	case strings.TrimSpace(customerID) == "":
		return domain.NewValidationError("customer_id", "is required")
	case strings.TrimSpace(req.CategoryID) == "":
		return domain.NewValidationError("category_id", "is required")
	case strings.TrimSpace(req.Title) == "":
		return domain.NewValidationError("title", "is required")
	case strings.TrimSpace(req.Description) == "":
		return domain.NewValidationError("description", "is required")
	case strings.TrimSpace(req.Address) == "":
		return domain.NewValidationError("address", "is required")
	case req.Latitude == nil:
		return domain.NewValidationError("latitude", "is required")
	case !(domain.Location{Lat: *req.Latitude}).Valid():
		return domain.NewValidationError("latitude", "must be between -90 and 90")
	case req.Longitude == nil:
		return domain.NewValidationError("longitude", "is required")
	case !(domain.Location{Lng: *req.Longitude}).Valid():
		return domain.NewValidationError("longitude", "must be between -180 and 180")
	}

	if w := req.ArrivalWindowHours; w != nil && (*w <= 0 || *w > s.config.MaxArrivalWindowHours) {
		return domain.NewValidationError("arrival_window_hours",
			fmt.Sprintf("must be between 1 and %d", s.config.MaxArrivalWindowHours))
	}
	return nil
}

// GetJob returns the job with its offers when userID is its customer or one
// of the providers it was offered to.
func (s *Service) GetJob(ctx context.Context, jobID, userID string) (*store.JobState, error) {
	st, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if st.Job.CustomerID == userID {
		return st, nil
	}
	if o := st.Offer(userID); o != nil {
		// a provider only sees its own offer
		return &store.JobState{Job: st.Job, Offers: []domain.Offer{*o}}, nil
	}
	return nil, &domain.NotFoundError{Resource: "job", ID: jobID}
}

// ListJobs returns one page of the customer's jobs, newest first. The page
// holds at most pageSize jobs; hasMore reports whether another page exists.
func (s *Service) ListJobs(ctx context.Context, customerID, status string, pageSize int, cursor *store.JobCursor) (jobs []domain.Job, hasMore bool, err error) {
	if status != "" {
		if _, ok := domain.ParseJobStatus(status); !ok {
			return nil, false, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
		}
	}

	jobs, err = s.store.ListJobs(ctx, store.JobFilter{
		CustomerID: customerID,
		Status:     status,
		PageSize:   pageSize,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) > pageSize {
		return jobs[:pageSize], true, nil
	}
	return jobs, false, nil
}
