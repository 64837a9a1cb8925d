package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/services"
	"github.com/upb/ai-orchestrator/services/providers"
	"github.com/upb/ai-orchestrator/utils"
)

// StatusClientClosedRequest is reported when the caller went away mid-generation
const StatusClientClosedRequest = 499

// StatusForError maps an orchestrator or domain error to an HTTP status
func StatusForError(err error) int {
	switch services.GetErrorType(err) {
	case services.ErrorTypeValidation, services.ErrorTypeUnknownModel:
		return http.StatusBadRequest
	case services.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeConflict:
		return http.StatusConflict
	case services.ErrorTypeCostExceeded:
		return http.StatusUnprocessableEntity
	case services.ErrorTypeNoProvidersAvailable:
		return http.StatusServiceUnavailable
	case services.ErrorTypeAllProvidersFailed, services.ErrorTypeProvider:
		return http.StatusBadGateway
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	}
	return http.StatusInternalServerError
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusForError(err)
	errType := string(services.GetErrorType(err))
	message := err.Error()
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Type == services.GetErrorType(err) {
		message = domainErr.Message
	}

	switch status {
	case http.StatusInternalServerError:
		// Internal errors keep their cause out of the response
		logger.Error("internal server error", zap.Error(err))
		errType = string(services.ErrInternal.Type)
		message = services.ErrInternal.Message
	case http.StatusGatewayTimeout:
		errType = "timeout"
	case StatusClientClosedRequest:
		errType = "cancelled"
	}

	if writeErr := utils.WriteError(w, status, errType, message, errorDetails(err)); writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		details := utils.FieldDetails(utils.GetValidationFields(err))
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// errorDetails extracts the structured fields of the terminal error
func errorDetails(err error) map[string]interface{} {
	var (
		noneErr   *services.NoProvidersAvailableError
		failedErr *services.AllProvidersFailedError
		costErr   *services.CostExceededError
		modelErr  *providers.UnknownModelError
	)

	switch {
	case errors.As(err, &noneErr):
		return map[string]interface{}{"registered": noneErr.Registered}
	case errors.As(err, &failedErr):
		attempts := make([]string, 0, len(failedErr.Errors))
		for _, e := range failedErr.Errors {
			attempts = append(attempts, e.Error())
		}
		return map[string]interface{}{
			"attempts": failedErr.Attempts,
			"errors":   attempts,
		}
	case errors.As(err, &costErr):
		return map[string]interface{}{
			"provider": costErr.Provider,
			"cost":     costErr.Cost,
			"max":      costErr.Max,
		}
	case errors.As(err, &modelErr):
		return map[string]interface{}{
			"provider": modelErr.Provider,
			"model":    modelErr.Model,
		}
	}

	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		return nil
	}
	return details
}
