package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/quickbook-dispatch/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)
	providerHandler := handler.NewProviderHandler(deps)
	priceHandler := handler.NewPriceHandler(deps)
	streamHandler := handler.NewStreamHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(UserIdentityMiddleware())
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("/quick-book", jobHandler.CreateQuickBookJob)
			jobs.GET("/available", jobHandler.ListAvailableJobs)
			jobs.POST("/accept", jobHandler.AcceptJob)
			jobs.POST("/decline", jobHandler.DeclineJob)
			jobs.GET("/price-guidance/:category_id", priceHandler.GetGuidance)

			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		v1.POST("/price-samples", priceHandler.RecordSample)
		v1.PUT("/providers/availability", providerHandler.SetAvailability)
		v1.GET("/events/stream", streamHandler.Stream)
	}

	return r
}

// healthHandler runs every registered check with a short timeout
func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps.HealthChecks))
		for name, check := range deps.HealthChecks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": deps.ServiceName,
			"checks":  checks,
		})
	}
}
