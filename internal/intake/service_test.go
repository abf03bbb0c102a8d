package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/pricing"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (d *fakeDispatcher) Enqueue(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobID)
	return d.err
}

type fixedPrices struct{}

func (fixedPrices) Guidance(categoryID string) pricing.Guidance {
	return pricing.Guidance{
		CategoryID: categoryID,
		P10:        decimal.NewFromInt(40),
		P50:        decimal.NewFromInt(65),
		P90:        decimal.NewFromInt(120),
	}
}

func ptr[T any](v T) *T { return &v }

func validRequest() CreateJobRequest {
	return CreateJobRequest{
		CategoryID:  "plumbing",
		Title:       "Leaky tap",
		Description: "Kitchen tap drips",
		Address:     "1 Main St",
		Latitude:    ptr(10.7769),
		Longitude:   ptr(106.7009),
	}
}

func newTestService(d Dispatcher) (*Service, *store.MemoryStore, clockwork.FakeClock) {
	st := store.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, fixedPrices{}, d, clock, Config{DefaultArrivalWindowHours: 3}, logger), st, clock
}

func TestCreateJob(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{}
	svc, st, _ := newTestService(d)

	job, err := svc.CreateJob(ctx, "cust-1", validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, domain.JobStatusPosted, job.Status)
	assert.Equal(t, "cust-1", job.CustomerID)
	assert.Equal(t, 3, job.ArrivalWindowHours)
	assert.True(t, job.EstimatedPrice.Equal(decimal.NewFromInt(65)))
	assert.Equal(t, t0, job.CreatedAt)
	assert.Equal(t, t0.Add(30*time.Second), job.AcceptDeadline)
	assert.Empty(t, job.AcceptedProviderID)

	stored, err := st.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job, stored.Job)
	assert.Equal(t, []string{job.JobID}, d.jobs)
}

func TestCreateJob_EnqueueFailureStillCreates(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(&fakeDispatcher{err: errors.New("broker down")})

	job, err := svc.CreateJob(ctx, "cust-1", validRequest())
	require.NoError(t, err)

	_, err = st.GetJob(ctx, job.JobID)
	assert.NoError(t, err)
}

func TestCreateJob_Validation(t *testing.T) {
	tests := []struct {
		name     string
		customer string
		mutate   func(r *CreateJobRequest)
		field    string
	}{
		{name: "missing customer", customer: " ", mutate: func(r *CreateJobRequest) {}, field: "customer_id"},
		{name: "missing category", mutate: func(r *CreateJobRequest) { r.CategoryID = "" }, field: "category_id"},
		{name: "missing title", mutate: func(r *CreateJobRequest) { r.Title = "  " }, field: "title"},
		{name: "missing description", mutate: func(r *CreateJobRequest) { r.Description = "" }, field: "description"},
		{name: "missing address", mutate: func(r *CreateJobRequest) { r.Address = "" }, field: "address"},
		{name: "missing latitude", mutate: func(r *CreateJobRequest) { r.Latitude = nil }, field: "latitude"},
		{name: "latitude out of range", mutate: func(r *CreateJobRequest) { r.Latitude = ptr(90.5) }, field: "latitude"},
		{name: "latitude NaN", mutate: func(r *CreateJobRequest) { r.Latitude = ptr(math.NaN()) }, field: "latitude"},
		{name: "missing longitude", mutate: func(r *CreateJobRequest) { r.Longitude = nil }, field: "longitude"},
		{name: "longitude out of range", mutate: func(r *CreateJobRequest) { r.Longitude = ptr(-180.01) }, field: "longitude"},
		{name: "zero arrival window", mutate: func(r *CreateJobRequest) { r.ArrivalWindowHours = ptr(0) }, field: "arrival_window_hours"},
		{name: "arrival window too long", mutate: func(r *CreateJobRequest) { r.ArrivalWindowHours = ptr(1000) }, field: "arrival_window_hours"},
		{
			name: "first bad field wins",
			mutate: func(r *CreateJobRequest) {
				r.Title = ""
				r.Latitude = nil
			},
			field: "title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			svc, _, _ := newTestService(d)

			customer := tt.customer
			if customer == "" {
				customer = "cust-1"
			}
			req := validRequest()
			tt.mutate(&req)

			_, err := svc.CreateJob(context.Background(), customer, req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, d.jobs, "nothing is dispatched")
		})
	}
}

func TestCreateJob_ExplicitArrivalWindow(t *testing.T) {
	svc, _, _ := newTestService(&fakeDispatcher{})
	req := validRequest()
	req.ArrivalWindowHours = ptr(6)

	job, err := svc.CreateJob(context.Background(), "cust-1", req)
	require.NoError(t, err)
	assert.Equal(t, 6, job.ArrivalWindowHours)
}

func TestGetJob_Visibility(t *testing.T) {
	ctx := context.Background()
	svc, st, clock := newTestService(&fakeDispatcher{})

	job, err := svc.CreateJob(ctx, "cust-1", validRequest())
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, job.JobID, func(s *store.JobState) error {
		s.AddOffer(domain.NewOffer(job.JobID, "p-a", 1, clock.Now()))
		s.AddOffer(domain.NewOffer(job.JobID, "p-b", 2, clock.Now()))
		s.Job.Status = domain.JobStatusOffered
		return nil
	}))

	got, err := svc.GetJob(ctx, job.JobID, "cust-1")
	require.NoError(t, err)
	assert.Len(t, got.Offers, 2)

	got, err = svc.GetJob(ctx, job.JobID, "p-b")
	require.NoError(t, err)
	require.Len(t, got.Offers, 1)
	assert.Equal(t, "p-b", got.Offers[0].ProviderID)

	_, err = svc.GetJob(ctx, job.JobID, "stranger")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestListJobs(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(&fakeDispatcher{})

	for i := 0; i < 5; i++ {
		req := validRequest()
		req.Title = fmt.Sprintf("job %d", i)
		_, err := svc.CreateJob(ctx, "cust-1", req)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	page, hasMore, err := svc.ListJobs(ctx, "cust-1", "", 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "job 4", page[0].Title)

	last := page[1]
	page, hasMore, err = svc.ListJobs(ctx, "cust-1", "POSTED", 10, &store.JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID})
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, hasMore)

	_, _, err = svc.ListJobs(ctx, "cust-1", "DONE", 10, nil)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)
}
