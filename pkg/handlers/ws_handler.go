package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/auth"
	"github.com/datapulse-io/datapulse-engine/pkg/services"
	"github.com/datapulse-io/datapulse-engine/pkg/ws"
)

// WSHandler upgrades live-update connections and registers them with the
// hub. Browsers cannot set an Authorization header on websocket upgrades,
// so auth middleware accepts the token query parameter on these routes.
type WSHandler struct {
	hub              *ws.Hub
	workspaceService services.WorkspaceService
	logger           *zap.Logger

	upgrader websocket.Upgrader
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(hub *ws.Hub, workspaceService services.WorkspaceService, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:              hub,
		workspaceService: workspaceService,
		logger:           logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth has already run; cross-origin pages cannot forge it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the websocket handler's routes on the given mux.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped Middleware) {
	mux.HandleFunc("GET /api/ws/workspaces/{wid}", authMiddleware.RequireAuth(scoped(h.WorkspaceEvents)))
	mux.HandleFunc("GET /api/ws/notifications", authMiddleware.RequireAuth(h.UserNotifications))
}

// WorkspaceEvents handles GET /api/ws/workspaces/{wid}
func (h *WSHandler) WorkspaceEvents(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	// Membership gate before the upgrade; after it the connection only
	// receives events, never sends commands.
	if _, err := h.workspaceService.Get(r.Context(), userID, workspaceID); err != nil {
		ServiceError(w, h.logger, err, "workspace_events_failed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.hub.AddWorkspaceConn(workspaceID, conn)
	h.readUntilClose(conn)
}

// UserNotifications handles GET /api/ws/notifications
func (h *WSHandler) UserNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r, h.logger)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.hub.AddUserConn(userID, conn)
	h.readUntilClose(conn)
}

// readUntilClose drains inbound frames until the peer disconnects, then
// unregisters the connection. Inbound payloads are ignored.
func (h *WSHandler) readUntilClose(conn *websocket.Conn) {
	defer func() {
		h.hub.RemoveConn(conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
