package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/quickbook-dispatch/internal/api/dto"
	"github.com/cuongbtq/quickbook-dispatch/internal/domain"
)

// Error codes returned in ErrorResponse.Error
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeOfferExpired = "offer_expired"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal_error"
)

// statusFor maps a domain error to its HTTP status and error body
func statusFor(err error) (int, dto.ErrorResponse) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		expired    *domain.ExpiredOfferError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, dto.ErrorResponse{Error: CodeValidation, Message: validation.Error(), Field: validation.Field}
	case errors.As(err, &notFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: CodeNotFound, Message: notFound.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, dto.ErrorResponse{Error: CodeConflict, Message: conflict.Error()}
	case errors.As(err, &expired):
		return http.StatusGone, dto.ErrorResponse{Error: CodeOfferExpired, Message: expired.Error()}
	default:
		return http.StatusInternalServerError, dto.ErrorResponse{Error: CodeInternal, Message: "internal error"}
	}
}

// respondError writes the mapped error and logs unexpected failures
func respondError(c *gin.Context, logger *slog.Logger, op string, err error) {
	status, body := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(op+" failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

// respondBadRequest writes a 400 for a body or query that could not be bound
func respondBadRequest(c *gin.Context, field string, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   CodeValidation,
		Message: err.Error(),
		Field:   field,
	})
}
