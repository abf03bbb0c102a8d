package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg := <-w.jobsChan:
			err := w.processJob(ctx, msg)
			if err != nil {
				w.logger.Error("Dispatch failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
			}
			if msg.FromQueue {
				w.settle(workerName, msg, err)
			}
		}
	}
}

// settle acks or nacks a queue message according to the processing result
func (w *Worker) settle(workerName string, msg *DispatchMessage, err error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
		)
		return
	}

	if err != nil {
		requeue := shouldRequeueJob(err)
		if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Any("error", nackErr),
			)
			return
		}
		w.logger.Info("Message NACKed",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.Bool("requeue", requeue),
		)
		return
	}

	if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.Any("error", ackErr),
		)
	}
}

// shouldRequeueJob determines if a job should be requeued based on the error type
func shouldRequeueJob(err error) bool {
	// An unknown job or a job with unusable data will never succeed
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	var invalid *domain.ValidationError
	if errors.As(err, &invalid) {
		return false
	}
	if errors.Is(err, ErrInvalidPayload) {
		return false
	}

	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
