package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/auth"
	"github.com/datapulse-io/datapulse-engine/pkg/services"
)

// WorkspaceHandler handles workspace configuration HTTP requests.
type WorkspaceHandler struct {
	workspaceService services.WorkspaceService
	pollService      services.PollService
	logger           *zap.Logger
}

// NewWorkspaceHandler creates a new workspace handler.
func NewWorkspaceHandler(workspaceService services.WorkspaceService, pollService services.PollService, logger *zap.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{
		workspaceService: workspaceService,
		pollService:      pollService,
		logger:           logger,
	}
}

// RegisterRoutes registers the workspace handler's routes on the given mux.
// Listing and creation run on an unscoped data session; everything under a
// {wid} runs workspace-scoped.
func (h *WorkspaceHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, global, scoped Middleware) {
	mux.HandleFunc("POST /api/workspaces", authMiddleware.RequireAuth(global(h.Create)))
	mux.HandleFunc("GET /api/workspaces", authMiddleware.RequireAuth(global(h.List)))
	mux.HandleFunc("GET /api/workspaces/{wid}", authMiddleware.RequireAuth(scoped(h.Get)))
	mux.HandleFunc("PATCH /api/workspaces/{wid}", authMiddleware.RequireAuth(scoped(h.Update)))
	mux.HandleFunc("DELETE /api/workspaces/{wid}", authMiddleware.RequireAuth(scoped(h.Delete)))
	mux.HandleFunc("POST /api/workspaces/{wid}/polling/enable", authMiddleware.RequireAuth(scoped(h.EnablePolling)))
	mux.HandleFunc("POST /api/workspaces/{wid}/polling/pause", authMiddleware.RequireAuth(scoped(h.PausePolling)))
	mux.HandleFunc("POST /api/workspaces/{wid}/poll", authMiddleware.RequireAuth(scoped(h.TriggerPoll)))
	mux.HandleFunc("POST /api/workspaces/{wid}/members", authMiddleware.RequireAuth(scoped(h.AddMember)))
	mux.HandleFunc("DELETE /api/workspaces/{wid}/members/{uid}", authMiddleware.RequireAuth(scoped(h.RemoveMember)))
}

// Create handles POST /api/workspaces
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r, h.logger)
	if !ok {
		return
	}

	var input services.WorkspaceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	workspace, err := h.workspaceService.Create(r.Context(), userID, &input)
	if err != nil {
		ServiceError(w, h.logger, err, "create_workspace_failed")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: workspace}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/workspaces
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r, h.logger)
	if !ok {
		return
	}

	workspaces, err := h.workspaceService.List(r.Context(), userID)
	if err != nil {
		ServiceError(w, h.logger, err, "list_workspaces_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: workspaces}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/workspaces/{wid}
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	workspace, err := h.workspaceService.Get(r.Context(), userID, workspaceID)
	if err != nil {
		ServiceError(w, h.logger, err, "get_workspace_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: workspace}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PATCH /api/workspaces/{wid}
func (h *WorkspaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	var input services.WorkspaceInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	workspace, err := h.workspaceService.Update(r.Context(), userID, workspaceID, &input)
	if err != nil {
		ServiceError(w, h.logger, err, "update_workspace_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: workspace}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/workspaces/{wid}
func (h *WorkspaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.workspaceService.Delete(r.Context(), userID, workspaceID); err != nil {
		ServiceError(w, h.logger, err, "delete_workspace_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// EnablePolling handles POST /api/workspaces/{wid}/polling/enable
func (h *WorkspaceHandler) EnablePolling(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	workspace, err := h.workspaceService.EnablePolling(r.Context(), userID, workspaceID)
	if err != nil {
		ServiceError(w, h.logger, err, "enable_polling_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: workspace}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// PausePolling handles POST /api/workspaces/{wid}/polling/pause
func (h *WorkspaceHandler) PausePolling(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	workspace, err := h.workspaceService.PausePolling(r.Context(), userID, workspaceID)
	if err != nil {
		ServiceError(w, h.logger, err, "pause_polling_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: workspace}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TriggerPoll handles POST /api/workspaces/{wid}/poll
func (h *WorkspaceHandler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	// Any member can trigger a poll; the pipeline itself enforces source
	// and polling state.
	if _, err := h.workspaceService.Get(r.Context(), userID, workspaceID); err != nil {
		ServiceError(w, h.logger, err, "trigger_poll_failed")
		return
	}

	if err := h.pollService.Poll(r.Context(), workspaceID); err != nil {
		var pollErr *services.PollFailure
		if errors.As(err, &pollErr) {
			if err := ErrorResponse(w, http.StatusBadGateway, "poll_failed", pollErr.Reason); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		ServiceError(w, h.logger, err, "trigger_poll_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Poll completed"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type addMemberRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// AddMember handles POST /api/workspaces/{wid}/members
func (h *WorkspaceHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == uuid.Nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "user_id is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.workspaceService.AddMember(r.Context(), userID, workspaceID, req.UserID); err != nil {
		ServiceError(w, h.logger, err, "add_member_failed")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RemoveMember handles DELETE /api/workspaces/{wid}/members/{uid}
func (h *WorkspaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	memberID, ok := parsePathID(w, r, h.logger, "uid", "user")
	if !ok {
		return
	}

	if err := h.workspaceService.RemoveMember(r.Context(), userID, workspaceID, memberID); err != nil {
		ServiceError(w, h.logger, err, "remove_member_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// currentUserID reads the authenticated user from context. Auth middleware
// guarantees it is present; the check guards against misregistered routes.
func currentUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		logger.Error("Missing user identity on authenticated route")
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return userID, true
}

// requestScope reads the authenticated user and the {wid} path parameter.
func requestScope(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (userID, workspaceID uuid.UUID, ok bool) {
	userID, ok = currentUserID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	workspaceID, ok = ParseWorkspaceID(w, r, logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, workspaceID, true
}
