package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// HubConfig bounds the per-user event log
type HubConfig struct {
	// Retention is the maximum number of events kept per user.
	Retention int
	// ReplayWindow is how long an event stays replayable.
	ReplayWindow time.Duration
	// SubscriberBuffer is the capacity of each subscription's channel.
	SubscriberBuffer int
}

type record struct {
	seq       uint64
	event     Event
	at        time.Time
	delivered bool
}

type mailbox struct {
	records    []*record
	nextSeq    uint64
	subs       map[*Subscription]struct{}
	lastActive time.Time
}

func (m *mailbox) find(eventID string) *record {
	for _, r := range m.records {
		if r.event.ID == eventID {
			return r
		}
	}
	return nil
}

// Hub keeps an ordered event log per user and feeds every open subscription
// of that user from it. Publish only appends and wakes pumps.
type Hub struct {
	config HubConfig
	clock  clockwork.Clock
	logger *slog.Logger

	mu        sync.Mutex
	mailboxes map[string]*mailbox
}

var _ Notifier = (*Hub)(nil)

// NewHub creates a new Hub
func NewHub(config HubConfig, clock clockwork.Clock, logger *slog.Logger) *Hub {
	if config.Retention <= 0 {
		config.Retention = 256
	}
	if config.ReplayWindow <= 0 {
		config.ReplayWindow = 10 * time.Minute
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 64
	}
	return &Hub{
		config:    config,
		clock:     clock,
		logger:    logger,
		mailboxes: make(map[string]*mailbox),
	}
}

func (h *Hub) mailboxLocked(userID string) *mailbox {
	mb, ok := h.mailboxes[userID]
	if !ok {
		mb = &mailbox{subs: make(map[*Subscription]struct{})}
		h.mailboxes[userID] = mb
	}
	return mb
}

// Publish appends ev to its target user's log. Publishing an event id that
// is already in the log is a no-op.
func (h *Hub) Publish(ev Event) {
	if ev.TargetUserID == "" {
		h.logger.Warn("Dropping event without target user",
			slog.String("event_id", ev.ID),
			slog.String("type", string(ev.Type)),
		)
		return
	}

	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	mb := h.mailboxLocked(ev.TargetUserID)
	if mb.find(ev.ID) != nil {
		return
	}

	mb.records = append(mb.records, &record{seq: mb.nextSeq, event: ev, at: now})
	mb.nextSeq++
	mb.lastActive = now

	if over := len(mb.records) - h.config.Retention; over > 0 {
		h.logger.Debug("Event log over retention, dropping oldest",
			slog.String("user_id", ev.TargetUserID),
			slog.Int("dropped", over),
		)
		mb.records = append([]*record(nil), mb.records[over:]...)
	}

	for sub := range mb.subs {
		sub.notify()
	}
}

// Subscribe opens a delivery channel for userID. When lastEventID names an
// event still in the log, everything after it is replayed first; otherwise
// events never handed to any subscription within the replay window are.
func (h *Hub) Subscribe(userID, lastEventID string) *Subscription {
	now := h.clock.Now()

	h.mu.Lock()
	mb := h.mailboxLocked(userID)
	mb.lastActive = now

	var backlog []*record
	if r := mb.find(lastEventID); lastEventID != "" && r != nil {
		for _, rec := range mb.records {
			if rec.seq > r.seq {
				backlog = append(backlog, rec)
			}
		}
	} else {
		cutoff := now.Add(-h.config.ReplayWindow)
		for _, rec := range mb.records {
			if !rec.delivered && rec.at.After(cutoff) {
				backlog = append(backlog, rec)
			}
		}
	}

	sub := &Subscription{
		hub:     h,
		userID:  userID,
		events:  make(chan Event, h.config.SubscriberBuffer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		backlog: backlog,
		cursor:  mb.nextSeq,
	}
	mb.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Subscription opened",
		slog.String("user_id", userID),
		slog.Int("replay", len(backlog)),
	)

	go sub.pump()
	return sub
}

// pending returns the records at or after cursor for userID
func (h *Hub) pending(userID string, cursor uint64) []*record {
	h.mu.Lock()
	defer h.mu.Unlock()

	mb, ok := h.mailboxes[userID]
	if !ok {
		return nil
	}
	var out []*record
	for _, r := range mb.records {
		if r.seq >= cursor {
			out = append(out, r)
		}
	}
	return out
}

// claim marks r delivered and returns the previous flag
func (h *Hub) claim(r *record) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := r.delivered
	r.delivered = true
	return prev
}

func (h *Hub) release(r *record, prev bool) {
	h.mu.Lock()
	r.delivered = prev
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if mb, ok := h.mailboxes[sub.userID]; ok {
		delete(mb.subs, sub)
		mb.lastActive = h.clock.Now()
	}
}

// Prune drops records older than the replay window and forgets users with
// no subscriptions and no records left.
func (h *Hub) Prune(now time.Time) int {
	cutoff := now.Add(-h.config.ReplayWindow)

	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for userID, mb := range h.mailboxes {
		i := 0
		for i < len(mb.records) && !mb.records[i].at.After(cutoff) {
			i++
		}
		if i > 0 {
			dropped += i
			mb.records = append([]*record(nil), mb.records[i:]...)
		}
		if len(mb.records) == 0 && len(mb.subs) == 0 && !mb.lastActive.After(cutoff) {
			delete(h.mailboxes, userID)
		}
	}
	return dropped
}

// Subscription is one open delivery channel of a user
type Subscription struct {
	hub     *Hub
	userID  string
	events  chan Event
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	backlog []*record
	cursor  uint64
}

// Events returns the channel events are delivered on, in emission order. It
// is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes. Events not yet handed over stay in the log.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.unsubscribe(s)
	})
}

func (s *Subscription) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) send(r *record) bool {
	prev := s.hub.claim(r)
	select {
	case s.events <- r.event:
		return true
	case <-s.done:
		s.hub.release(r, prev)
		return false
	}
}

func (s *Subscription) pump() {
	defer close(s.events)

	for _, r := range s.backlog {
		if !s.send(r) {
			return
		}
	}
	s.backlog = nil

	for {
		for _, r := range s.hub.pending(s.userID, s.cursor) {
			if !s.send(r) {
				return
			}
			s.cursor = r.seq + 1
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
