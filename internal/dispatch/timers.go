package dispatch

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type timerEntry struct {
	timer clockwork.Timer
}

// timerSet tracks the expiry timers of every open job: one per pending
// offer plus one job-level governor.
type timerSet struct {
	clock clockwork.Clock

	mu        sync.Mutex
	offers    map[string]map[string]*timerEntry
	governors map[string]*timerEntry
}

func newTimerSet(clock clockwork.Clock) *timerSet {
	return &timerSet{
		clock:     clock,
		offers:    make(map[string]map[string]*timerEntry),
		governors: make(map[string]*timerEntry),
	}
}

// scheduleOffer arms fn to run at the offer's expiry. An existing timer for
// the same offer is left in place.
func (t *timerSet) scheduleOffer(jobID, providerID string, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byProvider, ok := t.offers[jobID]
	if !ok {
		byProvider = make(map[string]*timerEntry)
		t.offers[jobID] = byProvider
	}
	if _, ok := byProvider[providerID]; ok {
		return
	}

	entry := &timerEntry{}
	byProvider[providerID] = entry
	entry.timer = t.clock.AfterFunc(at.Sub(t.clock.Now()), func() {
		t.mu.Lock()
		if m := t.offers[jobID]; m != nil && m[providerID] == entry {
			delete(m, providerID)
			if len(m) == 0 {
				delete(t.offers, jobID)
			}
		}
		t.mu.Unlock()
		fn()
	})
}

// scheduleGovernor arms fn to run at the job's accept deadline, replacing
// any earlier governor.
func (t *timerSet) scheduleGovernor(jobID string, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.governors[jobID]; ok && prev.timer != nil {
		prev.timer.Stop()
	}

	entry := &timerEntry{}
	t.governors[jobID] = entry
	entry.timer = t.clock.AfterFunc(at.Sub(t.clock.Now()), func() {
		t.mu.Lock()
		if t.governors[jobID] == entry {
			delete(t.governors, jobID)
		}
		t.mu.Unlock()
		fn()
	})
}

func (t *timerSet) stopOffer(jobID, providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.offers[jobID]
	if m == nil {
		return
	}
	if e, ok := m[providerID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m, providerID)
	}
	if len(m) == 0 {
		delete(t.offers, jobID)
	}
}

// stopJob stops every offer timer of the job and its governor.
func (t *timerSet) stopJob(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.offers[jobID] {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	delete(t.offers, jobID)

	if e, ok := t.governors[jobID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.governors, jobID)
	}
}

// count returns the number of armed offer timers and governors.
func (t *timerSet) count() (offers, governors int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.offers {
		offers += len(m)
	}
	return offers, len(t.governors)
}
