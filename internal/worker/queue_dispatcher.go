package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/quickbook-dispatch/shared/rabbitmq"
)

// Publisher publishes a message to the dispatch exchange
type Publisher interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
}

var _ Publisher = (*rabbitmq.Client)(nil)

// QueueDispatcher enqueues jobs on RabbitMQ for a separate worker service
type QueueDispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewQueueDispatcher creates a new QueueDispatcher
func NewQueueDispatcher(publisher Publisher, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		publisher: publisher,
		logger:    logger,
	}
}

// Enqueue publishes {"job_id": ...} to the dispatch queue
func (d *QueueDispatcher) Enqueue(ctx context.Context, jobID string) error {
	body, err := json.Marshal(DispatchMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch message: %w", err)
	}

	if err := d.publisher.PublishWithRetry(ctx, jobID, body, "application/json"); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	d.logger.Debug("Job enqueued for dispatch",
		slog.String("job_id", jobID),
	)
	return nil
}
