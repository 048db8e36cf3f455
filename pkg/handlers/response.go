// Package handlers contains the HTTP API surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/apperrors"
)

// ApiResponse is the standard response envelope.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// PaginatedResponse wraps a page of items with paging metadata.
type PaginatedResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Middleware wraps a handler, for auth and data-scope layers.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceError maps a service-layer error to an HTTP error response.
func ServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallbackCode string) {
	var status int
	var code string

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrValidation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrUploadLimitReached):
		status, code = http.StatusConflict, "upload_limit_reached"
	case errors.Is(err, apperrors.ErrPollingDisabled):
		status, code = http.StatusConflict, "polling_disabled"
	case errors.Is(err, apperrors.ErrSourceNotConfigured):
		status, code = http.StatusBadRequest, "source_not_configured"
	default:
		logger.Error("Request failed", zap.Error(err))
		status, code = http.StatusInternalServerError, fallbackCode
	}

	if writeErr := ErrorResponse(w, status, code, err.Error()); writeErr != nil {
		logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

// ParseWorkspaceID extracts and validates the {wid} path parameter. Writes
// an error response and returns false on failure.
func ParseWorkspaceID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parsePathID(w, r, logger, "wid", "workspace")
}

func parsePathID(w http.ResponseWriter, r *http.Request, logger *zap.Logger, param, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(param))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_"+label+"_id", "Invalid "+label+" ID format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// parsePageParams reads limit/offset query parameters with defaults.
func parsePageParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
