package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// processJob runs one broadcast for the job under the configured timeout
func (w *Worker) processJob(ctx context.Context, msg *DispatchMessage) error {
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	result, err := w.broadcaster.Broadcast(jobCtx, msg.JobID)
	if err != nil {
		var notFound *domain.NotFoundError
		var invalid *domain.ValidationError
		if errors.As(err, &notFound) || errors.As(err, &invalid) {
			return err
		}
		return NewRetryableError(err)
	}

	w.logger.Info("Job dispatched",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
		slog.Int("offered", result.Offered),
		slog.Bool("expired", result.Expired),
	)
	return nil
}
