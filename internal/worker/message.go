package worker

import "errors"

// DispatchMessage is one unit of work for the pool
type DispatchMessage struct {
	JobID string `json:"job_id"`
	// DeliveryTag is set only for messages consumed from RabbitMQ
	DeliveryTag uint64 `json:"-"`
	FromQueue   bool   `json:"-"`
}

var (
	// ErrInvalidPayload is returned when a queue message cannot be decoded
	ErrInvalidPayload = errors.New("invalid dispatch message")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
