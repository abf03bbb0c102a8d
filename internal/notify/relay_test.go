package notify

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableRedis points at a port nothing listens on
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisRelay_FallsBackToLocalHub(t *testing.T) {
	hub, _ := newTestHub(HubConfig{})
	rdb := unreachableRedis()
	defer rdb.Close()

	relay := NewRedisRelay(rdb, hub, RelayConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	sub := hub.Subscribe("c1", "")
	defer sub.Close()

	relay.Publish(NewEvent("c1", "job-1", JobAccepted{JobID: "job-1", ProviderID: "p1", ProviderName: "Ann"}, t0))

	got := receive(t, sub, 1)
	assert.Equal(t, TypeJobAccepted, got[0].Type)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelay_QueueFullDeliversLocally(t *testing.T) {
	hub, _ := newTestHub(HubConfig{})
	rdb := unreachableRedis()
	defer rdb.Close()

	// not running, so the single queue slot fills up
	relay := NewRedisRelay(rdb, hub, RelayConfig{QueueSize: 1}, testLogger())

	sub := hub.Subscribe("c1", "")
	defer sub.Close()

	relay.Publish(taken("c1", "job-1"))
	relay.Publish(taken("c1", "job-2"))

	assert.Equal(t, []string{"job-2"}, jobIDs(receive(t, sub, 1)))
	require.Len(t, relay.queue, 1)
}
