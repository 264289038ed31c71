package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/middleware"
)

// errorStatus maps a service error to its HTTP status and error code
func errorStatus(err error) (int, string) {
	var validation *domain.ValidationError
	var external *domain.ExternalServiceError
	var llmErr *domain.LLMError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, domain.ErrCodeValidation
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, domain.ErrCodeInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrDuplicatePatient):
		return http.StatusConflict, domain.ErrCodeConflict
	case errors.Is(err, domain.ErrRecordIncomplete):
		return http.StatusUnprocessableEntity, domain.ErrCodeIncomplete
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.ErrCodeTimeout
	case errors.As(err, &llmErr):
		return http.StatusInternalServerError, domain.ErrCodeLLM
	case errors.As(err, &external):
		return http.StatusInternalServerError, domain.ErrCodeExternalAPI
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternalServer
	}
}

// errorMessages are the user-facing messages per code
var errorMessages = map[string]string{
	domain.ErrCodeValidation:     "Validation error",
	domain.ErrCodeInvalidInput:   "Invalid input",
	domain.ErrCodeNotFound:       "Resource not found",
	domain.ErrCodeConflict:       "Possible duplicate patient",
	domain.ErrCodeIncomplete:     "Medical record is incomplete",
	domain.ErrCodeTimeout:        "Request timed out",
	domain.ErrCodeLLM:            "Language model failed",
	domain.ErrCodeExternalAPI:    "External service failed",
	domain.ErrCodeInternalServer: "Internal server error",
}

// respondError writes the standard error envelope for err
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	requestID := c.GetString(middleware.CorrelationIDKey)

	message := errorMessages[code]
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		message = validation.Message
	}

	body := gin.H{
		"success": false,
		"error":   domain.NewAppError(code, message, err.Error(), requestID),
	}

	var dup *domain.DuplicatePatientError
	if errors.As(err, &dup) {
		body["duplicates"] = dup.Duplicates
	}

	entry := s.logger.WithFields(logrus.Fields{
		"correlation_id": requestID,
		"status":         status,
		"code":           code,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	c.AbortWithStatusJSON(status, body)
}

// badRequest rejects an unreadable request body or parameter
func (s *Server) badRequest(c *gin.Context, field, message string) {
	s.respondError(c, domain.NewValidationError(field, message, nil))
}
