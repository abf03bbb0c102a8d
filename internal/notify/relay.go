package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// RelayConfig controls the Redis fan-out
type RelayConfig struct {
	Channel     string
	QueueSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	BackoffMult float64
}

// RedisRelay fans events out to every instance through a Redis pub/sub
// channel. Each instance's subscriber feeds its own Hub, so a user's
// stream can live on any instance. Publish only enqueues.
type RedisRelay struct {
	rdb    *redis.Client
	hub    *Hub
	config RelayConfig
	logger *slog.Logger
	queue  chan Event
	wg     sync.WaitGroup
}

var _ Notifier = (*RedisRelay)(nil)

// NewRedisRelay creates a relay that delivers into hub
func NewRedisRelay(rdb *redis.Client, hub *Hub, config RelayConfig, logger *slog.Logger) *RedisRelay {
	if config.Channel == "" {
		config.Channel = "quickbook:events"
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.BackoffMult <= 0 {
		config.BackoffMult = 2.0
	}
	return &RedisRelay{
		rdb:    rdb,
		hub:    hub,
		config: config,
		logger: logger,
		queue:  make(chan Event, config.QueueSize),
	}
}

// Publish enqueues ev for the relay. When the queue is full the event is
// delivered to the local hub directly.
func (r *RedisRelay) Publish(ev Event) {
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("Relay queue full, delivering locally",
			slog.String("event_id", ev.ID),
			slog.String("user_id", ev.TargetUserID),
		)
		r.hub.Publish(ev)
	}
}

// Run starts the sender and the subscriber and blocks until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) {
	r.logger.Info("Starting Redis relay",
		slog.String("channel", r.config.Channel),
	)

	r.wg.Add(2)
	go r.sendLoop(ctx)
	go r.receiveLoop(ctx)
	r.wg.Wait()

	r.logger.Info("Redis relay stopped")
}

func (r *RedisRelay) sendLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case ev := <-r.queue:
			if err := r.send(ctx, ev); err != nil {
				r.logger.Error("Relay delivery failed, delivering locally",
					slog.String("event_id", ev.ID),
					slog.Bool("retryable", domain.IsRetryable(err)),
					slog.Any("error", err),
				)
				r.hub.Publish(ev)
			}
		}
	}
}

// drain hands queued events to the local hub on shutdown
func (r *RedisRelay) drain() {
	for {
		select {
		case ev := <-r.queue:
			r.hub.Publish(ev)
		default:
			return
		}
	}
}

// send publishes ev with exponential backoff between attempts
func (r *RedisRelay) send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}

	var lastErr error
	delay := r.config.RetryDelay
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		err := r.rdb.Publish(ctx, r.config.Channel, body).Err()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < r.config.MaxRetries {
			r.logger.Warn("Failed to publish event to Redis, retrying...",
				slog.String("event_id", ev.ID),
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &domain.DeliveryFailure{EventID: ev.ID, Err: ctx.Err()}
			}
			delay = time.Duration(float64(delay) * r.config.BackoffMult)
		}
	}
	return &domain.DeliveryFailure{EventID: ev.ID, Err: lastErr}
}

func (r *RedisRelay) receiveLoop(ctx context.Context) {
	defer r.wg.Done()

	pubsub := r.rdb.Subscribe(ctx, r.config.Channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Error("Failed to decode relayed event",
					slog.Any("error", err),
				)
				continue
			}
			r.hub.Publish(ev)
		}
	}
}
