package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/wallet-inspector/internal/errors"
	"github.com/wallet-inspector/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Common error codes
const (
	ErrCodeInvalidAddress     = "INVALID_ADDRESS"
	ErrCodeInvalidParameter   = "INVALID_PARAMETER"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRequestCancelled   = "REQUEST_CANCELLED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeCacheDisabled      = "CACHE_DISABLED"
)

// respondServiceError maps a service error onto an HTTP response.
// Internal details are never echoed to the client.
func respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		respondError(w, 499, ErrCodeRequestCancelled, "request cancelled", nil)
		return
	}

	status := apperrors.GetHTTPStatusCode(err)
	svcErr := apperrors.Categorize(err).ToServiceError()
	if svcErr.Code == ErrCodeInternalError {
		respondError(w, status, svcErr.Code, "An internal error occurred", nil)
		return
	}

	respondError(w, status, svcErr.Code, svcErr.Message, svcErr.Details)
}
