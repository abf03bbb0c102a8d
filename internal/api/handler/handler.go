package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/dispatch"
	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/intake"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
	"github.com/cuongbtq/quickbook-dispatch/internal/pricing"
)

const (
	// UserIDHeader carries the caller identity set by the upstream gateway
	UserIDHeader = "X-User-ID"
	// UserIDKey is the gin context key the identity is stored under
	UserIDKey = "user_id"
)

// AvailabilityWriter stores a provider's availability toggle
type AvailabilityWriter interface {
	SetAvailability(ctx context.Context, p domain.ProviderAvailability) error
}

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	ServiceName     string
	Intake          *intake.Service
	Arbiter         *dispatch.Arbiter
	Providers       AvailabilityWriter
	Prices          *pricing.Engine
	Hub             *notify.Hub
	StreamHeartbeat time.Duration
	HealthChecks    map[string]HealthCheck
}

// JobHandler handles job and offer HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	intake  *intake.Service
	arbiter *dispatch.Arbiter
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		intake:  deps.Intake,
		arbiter: deps.Arbiter,
	}
}

// userID returns the caller identity stored by the auth middleware
func userID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
