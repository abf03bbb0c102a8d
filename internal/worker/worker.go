package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/quickbook-dispatch/internal/dispatch"
	"github.com/cuongbtq/quickbook-dispatch/shared/rabbitmq"
	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the in-process queue has no room
var ErrQueueFull = errors.New("dispatch queue full")

// Broadcaster runs one dispatch pass for a job
type Broadcaster interface {
	Broadcast(ctx context.Context, jobID string) (dispatch.BroadcastResult, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Broadcaster Broadcaster
	// RabbitClient is nil when jobs are only fed through Enqueue
	RabbitClient  *rabbitmq.Client
	WorkerID      string
	Concurrency   int
	QueueSize     int
	PrefetchCount int
	JobTimeout    time.Duration
}

// Worker executes broadcasts on a fixed pool of goroutines
type Worker struct {
	logger        *slog.Logger
	broadcaster   Broadcaster
	rabbitClient  *rabbitmq.Client
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	jobsChan      chan *DispatchMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "dispatch-" + uuid.NewString()[:8]
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Second
	}

	return &Worker{
		logger:        cfg.Logger,
		broadcaster:   cfg.Broadcaster,
		rabbitClient:  cfg.RabbitClient,
		workerID:      workerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    jobTimeout,
		jobsChan:      make(chan *DispatchMessage, queueSize),
		stopChan:      make(chan struct{}),
	}
}

// Start spawns the pool and, when a RabbitMQ client is configured, feeds it
// from the dispatch queue. It blocks until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Bool("queue_mode", w.rabbitClient != nil),
	)

	w.spawnWorkerPool(ctx)

	if w.rabbitClient != nil {
		deliveries, err := w.setupConsumer(ctx)
		if err != nil {
			return fmt.Errorf("failed to setup consumer: %w", err)
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, deliveries)
		}()
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
		w.wg.Wait()
		w.logger.Info("Worker stopped")
	})
}

// Enqueue hands a job to the pool without going through RabbitMQ. It never
// blocks: a full queue returns ErrQueueFull and the sweeper picks the job up
// later.
func (w *Worker) Enqueue(ctx context.Context, jobID string) error {
	msg := &DispatchMessage{JobID: jobID}
	select {
	case <-w.stopChan:
		return errors.New("worker stopped")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case w.jobsChan <- msg:
		return nil
	default:
		return fmt.Errorf("%w: job %s", ErrQueueFull, jobID)
	}
}
