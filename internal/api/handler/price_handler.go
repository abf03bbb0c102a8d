package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/quickbook-dispatch/internal/api/dto"
	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
	"github.com/cuongbtq/quickbook-dispatch/internal/pricing"
)

// PriceHandler serves price guidance and ingests completed-job prices
type PriceHandler struct {
	logger *slog.Logger
	prices *pricing.Engine
}

// NewPriceHandler creates a new PriceHandler instance
func NewPriceHandler(deps *Dependencies) *PriceHandler {
	return &PriceHandler{
		logger: deps.Logger,
		prices: deps.Prices,
	}
}

// GetGuidance handles GET /api/v1/jobs/price-guidance/:category_id
func (h *PriceHandler) GetGuidance(c *gin.Context) {
	g := h.prices.Guidance(c.Param("category_id"))
	c.JSON(http.StatusOK, dto.PriceGuidanceDTO{
		CategoryID:  g.CategoryID,
		P10:         g.P10,
		P50:         g.P50,
		P90:         g.P90,
		SampleCount: g.SampleCount,
	})
}

// RecordSample handles POST /api/v1/price-samples
func (h *PriceHandler) RecordSample(c *gin.Context) {
	var req dto.RecordSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "body", err)
		return
	}

	err := h.prices.RecordSample(c.Request.Context(), domain.PriceSample{
		SampleID:    req.SampleID,
		CategoryID:  req.CategoryID,
		Price:       req.Price,
		CompletedAt: req.CompletedAt,
	})
	if err != nil {
		respondError(c, h.logger, "RecordSample", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"sample_id": req.SampleID})
}
