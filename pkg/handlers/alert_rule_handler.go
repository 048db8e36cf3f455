package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/auth"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/services"
)

// AlertRuleHandler handles alert rule HTTP requests.
type AlertRuleHandler struct {
	alertRuleService services.AlertRuleService
	logger           *zap.Logger
}

// NewAlertRuleHandler creates a new alert rule handler.
func NewAlertRuleHandler(alertRuleService services.AlertRuleService, logger *zap.Logger) *AlertRuleHandler {
	return &AlertRuleHandler{
		alertRuleService: alertRuleService,
		logger:           logger,
	}
}

// RegisterRoutes registers the alert rule handler's routes on the given mux.
func (h *AlertRuleHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped Middleware) {
	base := "/api/workspaces/{wid}/alert-rules"

	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(scoped(h.Create)))
	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(scoped(h.List)))
	mux.HandleFunc("PATCH "+base+"/{rule_id}", authMiddleware.RequireAuth(scoped(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{rule_id}", authMiddleware.RequireAuth(scoped(h.Delete)))
}

// Create handles POST /api/workspaces/{wid}/alert-rules
func (h *AlertRuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	var input services.AlertRuleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rule, err := h.alertRuleService.Create(r.Context(), userID, workspaceID, &input)
	if err != nil {
		ServiceError(w, h.logger, err, "create_alert_rule_failed")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: rule}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/workspaces/{wid}/alert-rules
func (h *AlertRuleHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	rules, err := h.alertRuleService.List(r.Context(), userID, workspaceID)
	if err != nil {
		ServiceError(w, h.logger, err, "list_alert_rules_failed")
		return
	}

	if rules == nil {
		rules = make([]*models.AlertRule, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rules}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type updateAlertRuleRequest struct {
	IsActive *bool `json:"is_active"`
}

// Update handles PATCH /api/workspaces/{wid}/alert-rules/{rule_id}
func (h *AlertRuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}
	ruleID, ok := parsePathID(w, r, h.logger, "rule_id", "rule")
	if !ok {
		return
	}

	var req updateAlertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "is_active is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.alertRuleService.SetActive(r.Context(), userID, workspaceID, ruleID, *req.IsActive); err != nil {
		ServiceError(w, h.logger, err, "update_alert_rule_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/workspaces/{wid}/alert-rules/{rule_id}
func (h *AlertRuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}
	ruleID, ok := parsePathID(w, r, h.logger, "rule_id", "rule")
	if !ok {
		return
	}

	if err := h.alertRuleService.Delete(r.Context(), userID, workspaceID, ruleID); err != nil {
		ServiceError(w, h.logger, err, "delete_alert_rule_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
