package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/notify"
)

const lastEventIDHeader = "Last-Event-ID"

// StreamHandler serves the per-user server-sent event stream
type StreamHandler struct {
	logger    *slog.Logger
	clock     clockwork.Clock
	hub       *notify.Hub
	heartbeat time.Duration
}

// NewStreamHandler creates a new StreamHandler instance
func NewStreamHandler(deps *Dependencies) *StreamHandler {
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{
		logger:    deps.Logger,
		clock:     deps.Clock,
		hub:       deps.Hub,
		heartbeat: heartbeat,
	}
}

// Stream handles GET /api/v1/events/stream. A reconnecting client sends the
// id of the last event it saw in Last-Event-ID (or ?last_event_id=) and
// receives everything after it.
func (h *StreamHandler) Stream(c *gin.Context) {
	lastEventID := c.GetHeader(lastEventIDHeader)
	if lastEventID == "" {
		lastEventID = c.Query("last_event_id")
	}
	if lastEventID != "" {
		if _, err := uuid.Parse(lastEventID); err != nil {
			respondError(c, h.logger, "Stream", domain.NewValidationError("last_event_id", "must be an event id"))
			return
		}
	}

	user := userID(c)
	sub := h.hub.Subscribe(user, lastEventID)
	defer sub.Close()

	h.logger.Info("Event stream opened",
		slog.String("user_id", user),
		slog.String("last_event_id", lastEventID),
	)

	header := c.Writer.Header()
	header.Set("Content-Type", sse.ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := h.clock.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Event stream closed", slog.String("user_id", user))
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.Render(-1, sse.Event{
				Id:    ev.ID,
				Event: string(ev.Type),
				Data:  ev,
			})
			c.Writer.Flush()

		case <-ticker.Chan():
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
