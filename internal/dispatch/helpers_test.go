package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
	"github.com/cuongbtq/quickbook-dispatch/internal/proximity"
	"github.com/cuongbtq/quickbook-dispatch/internal/store"
)

var (
	t0     = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	origin = domain.Location{Lat: 10.7769, Lng: 106.7009}
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event

	// onPublish, when set, runs after each event is recorded.
	onPublish func(notify.Event)
}

func (r *recorder) Publish(ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.onPublish
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) types(userID string) []notify.EventType {
	var out []notify.EventType
	for _, ev := range r.forUser(userID) {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) forUser(userID string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.TargetUserID == userID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(userID string, typ notify.EventType) int {
	n := 0
	for _, ev := range r.forUser(userID) {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	clock       clockwork.FakeClock
	store       *store.MemoryStore
	index       *proximity.Index
	events      *recorder
	arbiter     *Arbiter
	broadcaster *Broadcaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		clock:  clockwork.NewFakeClockAt(t0),
		store:  store.NewMemoryStore(),
		index:  proximity.NewIndex(),
		events: &recorder{},
	}
	h.arbiter = NewArbiter(h.store, h.index, h.events, h.clock, logger)
	h.broadcaster = NewBroadcaster(h.store, h.index, h.events, h.arbiter, h.clock, 10, logger)
	return h
}

// addProvider registers an available plumber km kilometres north of origin
func (h *harness) addProvider(t *testing.T, id string, km float64) {
	t.Helper()
	require.NoError(t, h.index.SetAvailability(context.Background(), domain.ProviderAvailability{
		ProviderID:      id,
		Name:            "Provider " + id,
		IsAvailable:     true,
		CurrentLocation: domain.Location{Lat: origin.Lat + km/111.195, Lng: origin.Lng},
		Categories:      []string{"plumbing"},
	}))
}

func (h *harness) postJob(t *testing.T, jobID string) {
	t.Helper()
	now := h.clock.Now()
	require.NoError(t, h.store.CreateJob(context.Background(), &domain.Job{
		JobID:              jobID,
		CustomerID:         "cust-1",
		CategoryID:         "plumbing",
		Title:              "Leaky tap",
		Description:        "Kitchen tap drips",
		Location:           origin,
		Address:            "1 Main St",
		ArrivalWindowHours: 2,
		EstimatedPrice:     decimal.NewFromInt(60),
		Status:             domain.JobStatusPosted,
		CreatedAt:          now,
		UpdatedAt:          now,
		AcceptDeadline:     now.Add(domain.OfferTTL),
	}))
}

func (h *harness) state(t *testing.T, jobID string) *store.JobState {
	t.Helper()
	st, err := h.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return st
}

func (h *harness) status(jobID string) domain.JobStatus {
	st, err := h.store.GetJob(context.Background(), jobID)
	if err != nil {
		return ""
	}
	return st.Job.Status
}

// assertExactlyOneAccepted checks the booked-job invariants on the stored state
func assertExactlyOneAccepted(t *testing.T, st *store.JobState) {
	t.Helper()
	require.Equal(t, domain.JobStatusBooked, st.Job.Status)
	accepted := 0
	for _, o := range st.Offers {
		switch o.Status {
		case domain.OfferStatusAccepted:
			accepted++
			require.Equal(t, st.Job.AcceptedProviderID, o.ProviderID)
		case domain.OfferStatusPending:
			t.Fatalf("offer for %s still pending on a booked job", o.ProviderID)
		}
	}
	require.Equal(t, 1, accepted)
}
