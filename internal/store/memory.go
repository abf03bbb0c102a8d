package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// MemoryStore keeps jobs and offers in process memory. Each job carries its
// own mutex so arbitration on one job never waits for another.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobRecord
}

type jobRecord struct {
	mu    sync.Mutex
	state JobState
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*jobRecord),
	}
}

func (s *MemoryStore) record(jobID string) (*jobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	return rec, ok
}

// snapshot returns a copy of every record's state, each taken under its own lock.
func (s *MemoryStore) snapshot() []*JobState {
	s.mu.RLock()
	recs := make([]*jobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	states := make([]*JobState, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		states = append(states, rec.state.Clone())
		rec.mu.Unlock()
	}
	return states
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.JobID]; ok {
		return domain.ErrJobExists
	}
	s.jobs[job.JobID] = &jobRecord{state: JobState{Job: *job}}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*JobState, error) {
	rec, ok := s.record(jobID)
	if !ok {
		return nil, &domain.NotFoundError{Resource: "job", ID: jobID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, jobID string, fn func(*JobState) error) error {
	rec, ok := s.record(jobID)
	if !ok {
		return &domain.NotFoundError{Resource: "job", ID: jobID}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := rec.state.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := checkTransition(&rec.state, next); err != nil {
		return err
	}
	rec.state = *next
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	var jobs []domain.Job
	for _, st := range s.snapshot() {
		j := st.Job
		if filter.CustomerID != "" && j.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && string(j.Status) != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil && !before(j.CreatedAt, j.JobID, c.CreatedAt, c.JobID) {
			continue
		}
		jobs = append(jobs, j)
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	sort.Slice(jobs, func(a, b int) bool {
		return before(jobs[b].CreatedAt, jobs[b].JobID, jobs[a].CreatedAt, jobs[a].JobID)
	})

	// Fetch one extra to determine if there are more results
	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

// before reports whether (t1, id1) sorts strictly before (t2, id2).
func before(t1 time.Time, id1 string, t2 time.Time, id2 string) bool {
	if t1.Equal(t2) {
		return id1 < id2
	}
	return t1.Before(t2)
}

func (s *MemoryStore) ListAvailableOffers(ctx context.Context, providerID string, now time.Time) ([]domain.AvailableOffer, error) {
	var out []domain.AvailableOffer
	for _, st := range s.snapshot() {
		if !st.Job.Status.IsOpen() {
			continue
		}
		o := st.Offer(providerID)
		if o == nil || !o.IsPending() || now.After(o.ExpiresAt) {
			continue
		}
		out = append(out, domain.AvailableOffer{Offer: *o, Job: st.Job})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Offer.DistanceKm != out[b].Offer.DistanceKm {
			return out[a].Offer.DistanceKm < out[b].Offer.DistanceKm
		}
		return out[a].Job.JobID < out[b].Job.JobID
	})
	return out, nil
}

func (s *MemoryStore) ListOverdueOffers(ctx context.Context, now time.Time, limit int) ([]domain.OfferKey, error) {
	var keys []domain.OfferKey
	for _, st := range s.snapshot() {
		for _, o := range st.Offers {
			if o.IsPending() && !now.Before(o.ExpiresAt) {
				keys = append(keys, domain.OfferKey{JobID: o.JobID, ProviderID: o.ProviderID})
			}
		}
	}
	return truncate(keys, limit), nil
}

func (s *MemoryStore) ListOverdueJobs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	for _, st := range s.snapshot() {
		if st.Job.Status.IsOpen() && !now.Before(st.Job.AcceptDeadline) {
			ids = append(ids, st.Job.JobID)
		}
	}
	sort.Strings(ids)
	return truncate(ids, limit), nil
}

func (s *MemoryStore) ListStalePostedJobs(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	var ids []string
	for _, st := range s.snapshot() {
		if st.Job.Status == domain.JobStatusPosted && st.Job.CreatedAt.Before(createdBefore) {
			ids = append(ids, st.Job.JobID)
		}
	}
	sort.Strings(ids)
	return truncate(ids, limit), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
