package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/quickbook-dispatch/internal/api/dto"
	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// ProviderHandler handles the provider availability toggle
type ProviderHandler struct {
	logger    *slog.Logger
	clock     clockwork.Clock
	providers AvailabilityWriter
}

// NewProviderHandler creates a new ProviderHandler instance
func NewProviderHandler(deps *Dependencies) *ProviderHandler {
	return &ProviderHandler{
		logger:    deps.Logger,
		clock:     deps.Clock,
		providers: deps.Providers,
	}
}

// SetAvailability handles PUT /api/v1/providers/availability
func (h *ProviderHandler) SetAvailability(c *gin.Context) {
	var req dto.AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "body", err)
		return
	}

	switch {
	case req.IsAvailable == nil:
		respondError(c, h.logger, "SetAvailability", domain.NewValidationError("is_available", "is required"))
		return
	case req.Latitude == nil:
		respondError(c, h.logger, "SetAvailability", domain.NewValidationError("latitude", "is required"))
		return
	case req.Longitude == nil:
		respondError(c, h.logger, "SetAvailability", domain.NewValidationError("longitude", "is required"))
		return
	}

	p := domain.ProviderAvailability{
		ProviderID:      userID(c),
		Name:            req.Name,
		IsAvailable:     *req.IsAvailable,
		CurrentLocation: domain.Location{Lat: *req.Latitude, Lng: *req.Longitude},
		Categories:      req.Categories,
		UpdatedAt:       h.clock.Now(),
	}
	if err := h.providers.SetAvailability(c.Request.Context(), p); err != nil {
		respondError(c, h.logger, "SetAvailability", err)
		return
	}

	h.logger.Info("Provider availability updated",
		slog.String("provider_id", p.ProviderID),
		slog.Bool("is_available", p.IsAvailable),
	)

	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}
	c.JSON(http.StatusOK, dto.AvailabilityResponse{
		ProviderID:  p.ProviderID,
		IsAvailable: p.IsAvailable,
		Categories:  categories,
		UpdatedAt:   dto.FormatTime(p.UpdatedAt),
	})
}
