package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
)

func TestScenario_ProviderAcceptsAtFiveSeconds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	broadcastTo(t, h, "A", "B", "C")

	st := h.state(t, "job-1")
	require.Len(t, st.Offers, 3)
	for _, o := range st.Offers {
		assert.Equal(t, 30*time.Second, o.ExpiresAt.Sub(o.IssuedAt))
	}

	h.clock.Advance(5 * time.Second)

	job, err := h.arbiter.Accept(ctx, "job-1", "B")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusBooked, job.Status)
	assert.Equal(t, "B", job.AcceptedProviderID)

	st = h.state(t, "job-1")
	assertExactlyOneAccepted(t, st)
	assert.Equal(t, domain.OfferStatusDeclined, st.Offer("A").Status)
	assert.Equal(t, domain.OfferStatusDeclined, st.Offer("C").Status)
	assert.Equal(t, t0.Add(5*time.Second), *st.Offer("A").RespondedAt)

	customer := h.events.forUser("cust-1")
	require.Len(t, customer, 1)
	accepted, ok := customer[0].Payload.(notify.JobAccepted)
	require.True(t, ok)
	assert.Equal(t, "B", accepted.ProviderID)
	assert.Equal(t, "Provider B", accepted.ProviderName)

	assert.Equal(t, 1, h.events.count("A", notify.TypeJobTaken))
	assert.Equal(t, 1, h.events.count("C", notify.TypeJobTaken))

	// the original expiry instant passes without effect
	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assertExactlyOneAccepted(t, h.state(t, "job-1"))
	assert.Len(t, h.events.forUser("cust-1"), 1)
}

func TestScenario_SimultaneousAccept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	broadcastTo(t, h, "A", "B", "C")

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(map[string]error)
		mu    sync.Mutex
	)
	for _, p := range []string{"A", "C"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			<-start
			_, err := h.arbiter.Accept(ctx, "job-1", p)
			mu.Lock()
			errs[p] = err
			mu.Unlock()
		}(p)
	}
	close(start)
	wg.Wait()

	st := h.state(t, "job-1")
	assertExactlyOneAccepted(t, st)

	winner := st.Job.AcceptedProviderID
	require.Contains(t, []string{"A", "C"}, winner)
	loser := "A"
	if winner == "A" {
		loser = "C"
	}
	assert.NoError(t, errs[winner])
	var ce *domain.ConflictError
	assert.ErrorAs(t, errs[loser], &ce)
	assert.Equal(t, 1, h.events.count(loser, notify.TypeJobTaken))
}

func TestScenario_NoAcceptExpiresAtThirtySeconds(t *testing.T) {
	h := newHarness(t)
	broadcastTo(t, h, "A", "B", "C")

	h.clock.Advance(30*time.Second - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.JobStatusOffered, h.status("job-1"))

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		return h.events.count("cust-1", notify.TypeJobUpdate) == 1
	}, 2*time.Second, 5*time.Millisecond)

	st := h.state(t, "job-1")
	assert.Equal(t, domain.JobStatusExpired, st.Job.Status)
	assert.Equal(t, t0.Add(30*time.Second), st.Job.UpdatedAt)
	for _, o := range st.Offers {
		assert.Equal(t, domain.OfferStatusExpired, o.Status)
	}

	update := h.events.forUser("cust-1")[0].Payload.(notify.JobUpdate)
	assert.Equal(t, "EXPIRED", update.Status)

	// racing timers produce a single no-match notification
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.events.count("cust-1", notify.TypeJobUpdate))
}

func TestConcurrentAccept_RandomizedTrials(t *testing.T) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for trial := 0; trial < 50; trial++ {
		t.Run(fmt.Sprintf("trial-%02d", trial), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)

			n := 2 + rng.Intn(9)
			providers := make([]string, n)
			for i := range providers {
				providers[i] = fmt.Sprintf("p%02d", i)
			}
			broadcastTo(t, h, providers...)
			rng.Shuffle(n, func(i, j int) { providers[i], providers[j] = providers[j], providers[i] })

			yields := make([]int, n)
			for i := range yields {
				yields[i] = rng.Intn(4)
			}

			var (
				wg        sync.WaitGroup
				start     = make(chan struct{})
				mu        sync.Mutex
				successes []string
				conflicts int
			)
			for i, p := range providers {
				wg.Add(1)
				go func(p string, yield int) {
					defer wg.Done()
					<-start
					for k := 0; k < yield; k++ {
						runtime.Gosched()
					}
					_, err := h.arbiter.Accept(ctx, "job-1", p)

					mu.Lock()
					defer mu.Unlock()
					var ce *domain.ConflictError
					switch {
					case err == nil:
						successes = append(successes, p)
					case errors.As(err, &ce):
						conflicts++
					default:
						t.Errorf("unexpected error for %s: %v", p, err)
					}
				}(p, yields[i])
			}
			close(start)
			wg.Wait()

			require.Len(t, successes, 1)
			assert.Equal(t, n-1, conflicts)

			st := h.state(t, "job-1")
			assertExactlyOneAccepted(t, st)
			assert.Equal(t, successes[0], st.Job.AcceptedProviderID)
		})
	}
}

func TestAcceptRacingExpiry(t *testing.T) {
	for trial := 0; trial < 20; trial++ {
		t.Run(fmt.Sprintf("trial-%02d", trial), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			broadcastTo(t, h, "A", "B")

			h.clock.Advance(domain.OfferTTL)
			_, err := h.arbiter.Accept(ctx, "job-1", "A")

			if err == nil {
				assertExactlyOneAccepted(t, h.state(t, "job-1"))
				return
			}

			var ee *domain.ExpiredOfferError
			require.ErrorAs(t, err, &ee)
			require.Eventually(t, func() bool {
				return h.status("job-1") == domain.JobStatusExpired
			}, 2*time.Second, 5*time.Millisecond)
			for _, o := range h.state(t, "job-1").Offers {
				assert.NotEqual(t, domain.OfferStatusAccepted, o.Status)
			}
		})
	}
}
