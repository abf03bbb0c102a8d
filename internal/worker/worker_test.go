package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/quickbook-dispatch/internal/dispatch"
	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, jobID string) (dispatch.BroadcastResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, jobID)
	return dispatch.BroadcastResult{Offered: 1}, f.err
}

func (f *fakeBroadcaster) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestWorker_EnqueueRunsBroadcast(t *testing.T) {
	fb := &fakeBroadcaster{}
	w := NewWorker(&Config{Logger: testLogger(), Broadcaster: fb, Concurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Enqueue(ctx, fmt.Sprintf("job-%d", i)))
	}

	require.Eventually(t, func() bool { return len(fb.called()) == 5 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"job-0", "job-1", "job-2", "job-3", "job-4"}, fb.called())

	cancel()
	require.NoError(t, <-done)
	w.Stop()
}

func TestWorker_EnqueueQueueFull(t *testing.T) {
	fb := &fakeBroadcaster{}
	// Not started: nothing drains the queue
	w := NewWorker(&Config{Logger: testLogger(), Broadcaster: fb, QueueSize: 2})

	ctx := context.Background()
	require.NoError(t, w.Enqueue(ctx, "a"))
	require.NoError(t, w.Enqueue(ctx, "b"))

	err := w.Enqueue(ctx, "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestWorker_EnqueueAfterStop(t *testing.T) {
	w := NewWorker(&Config{Logger: testLogger(), Broadcaster: &fakeBroadcaster{}})
	w.Stop()
	w.Stop()

	assert.Error(t, w.Enqueue(context.Background(), "a"))
}

func TestWorker_ProcessJobClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   bool
		retryable bool
	}{
		{name: "success", err: nil},
		{name: "job not found", err: &domain.NotFoundError{Resource: "job", ID: "x"}, wantErr: true},
		{name: "bad location", err: domain.NewValidationError("location", "out of range"), wantErr: true},
		{name: "store failure", err: errors.New("connection reset"), wantErr: true, retryable: true},
		{name: "timeout", err: context.DeadlineExceeded, wantErr: true, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorker(&Config{Logger: testLogger(), Broadcaster: &fakeBroadcaster{err: tt.err}})

			err := w.processJob(context.Background(), &DispatchMessage{JobID: "job-1"})
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.retryable, shouldRequeueJob(err))
		})
	}
}

func TestShouldRequeueJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "retryable", err: NewRetryableError(errors.New("db down")), want: true},
		{name: "wrapped retryable", err: fmt.Errorf("ctx: %w", NewRetryableError(errors.New("db down"))), want: true},
		{name: "not found", err: domain.ErrJobNotFound, want: false},
		{name: "invalid payload", err: fmt.Errorf("%w: bad json", ErrInvalidPayload), want: false},
		{name: "unknown", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeueJob(tt.err))
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	id := "4f1c2b9e-2a55-4a7e-9a41-0c8d5b6f7e10"

	msg, err := decodeMessage([]byte(`{"job_id":"` + id + `"}`))
	require.NoError(t, err)
	assert.Equal(t, id, msg.JobID)
	assert.False(t, msg.FromQueue)

	for name, body := range map[string]string{
		"malformed json": `{"job_id":`,
		"missing id":     `{}`,
		"not a uuid":     `{"job_id":"job-1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeMessage([]byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

type fakePublisher struct {
	id   string
	body []byte
	ct   string
	err  error
}

func (f *fakePublisher) PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error {
	f.id, f.body, f.ct = messageID, body, contentType
	return f.err
}

func TestQueueDispatcher_Enqueue(t *testing.T) {
	pub := &fakePublisher{}
	d := NewQueueDispatcher(pub, testLogger())

	require.NoError(t, d.Enqueue(context.Background(), "job-1"))
	assert.Equal(t, "job-1", pub.id)
	assert.JSONEq(t, `{"job_id":"job-1"}`, string(pub.body))
	assert.Equal(t, "application/json", pub.ct)

	pub.err = errors.New("channel closed")
	err := d.Enqueue(context.Background(), "job-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-2")
}
