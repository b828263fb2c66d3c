package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/modelware/agentgate/services"
	"github.com/modelware/agentgate/utils"
)

// HandleValidationError writes a 400 response for a struct validation
// failure, including the per-field messages when available.
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if !utils.IsValidationError(err) {
		_ = utils.WriteBadRequest(w, "Invalid request", nil)
		return
	}

	fields := utils.GetValidationFields(err)
	details := make(map[string]interface{}, len(fields))
	for field, message := range fields {
		details[field] = message
	}

	logger.Debug("request validation failed", zap.Any("fields", fields))
	_ = utils.WriteBadRequest(w, "Validation failed", details)
}

// HandleServiceError maps a service-layer error to an HTTP response.
// Typed domain errors select the status; anything untyped is treated as
// internal and its detail is kept out of the response body.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var domainErr *services.DomainError
	message := err.Error()
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		message = domainErr.Message
	}

	switch services.TypeOf(err) {
	case services.ErrorTypeNotFound:
		_ = utils.WriteNotFound(w, message)
	case services.ErrorTypeValidation:
		_ = utils.WriteBadRequest(w, err.Error(), nil)
	case services.ErrorTypeConflict:
		_ = utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse{
			Error:   "conflict",
			Message: message,
		})
	default:
		logger.Error("service error", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
	}
}
