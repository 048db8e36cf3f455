package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	version string
	db      Pinger
	logger  *zap.Logger
}

// NewHealthHandler creates a new health handler. db may be nil when no
// store is attached.
func NewHealthHandler(version string, db Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{version: version, db: db, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Health check database ping failed", zap.Error(err))
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	if err := WriteJSON(w, code, map[string]string{
		"status":  status,
		"version": h.version,
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
