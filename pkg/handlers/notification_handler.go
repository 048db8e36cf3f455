package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/auth"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/services"
)

// NotificationHandler handles notification inbox HTTP requests.
type NotificationHandler struct {
	notificationService services.NotificationService
	logger              *zap.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notificationService services.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		logger:              logger,
	}
}

// RegisterRoutes registers the notification handler's routes on the given
// mux. Notifications are user-scoped, not workspace-scoped, so all routes
// run on an unscoped data session.
func (h *NotificationHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, global Middleware) {
	mux.HandleFunc("GET /api/notifications", authMiddleware.RequireAuth(global(h.List)))
	mux.HandleFunc("POST /api/notifications/{notification_id}/read", authMiddleware.RequireAuth(global(h.MarkRead)))
	mux.HandleFunc("POST /api/notifications/read-all", authMiddleware.RequireAuth(global(h.MarkAllRead)))
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r, h.logger)
	if !ok {
		return
	}

	limit, offset := parsePageParams(r)
	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	notifications, total, err := h.notificationService.List(r.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		ServiceError(w, h.logger, err, "list_notifications_failed")
		return
	}

	if notifications == nil {
		notifications = make([]*models.Notification, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginatedResponse{
			Items:  notifications,
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// MarkRead handles POST /api/notifications/{notification_id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r, h.logger)
	if !ok {
		return
	}
	notificationID, ok := parsePathID(w, r, h.logger, "notification_id", "notification")
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(r.Context(), userID, notificationID); err != nil {
		ServiceError(w, h.logger, err, "mark_read_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.notificationService.MarkAllRead(r.Context(), userID); err != nil {
		ServiceError(w, h.logger, err, "mark_all_read_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
