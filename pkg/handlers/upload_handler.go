package handlers

import (
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/auth"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/services"
)

// maxUploadFormMemory bounds the in-memory part of multipart parsing; the
// rest spills to temp files.
const maxUploadFormMemory = 1 << 20

// UploadHandler handles snapshot upload HTTP requests.
type UploadHandler struct {
	uploadService services.UploadService
	logger        *zap.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(uploadService services.UploadService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		logger:        logger,
	}
}

// RegisterRoutes registers the upload handler's routes on the given mux.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped Middleware) {
	base := "/api/workspaces/{wid}/uploads"

	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(scoped(h.Create)))
	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(scoped(h.List)))
	mux.HandleFunc("GET "+base+"/{upload_id}", authMiddleware.RequireAuth(scoped(h.Get)))
	mux.HandleFunc("GET "+base+"/{upload_id}/download", authMiddleware.RequireAuth(scoped(h.Download)))
	mux.HandleFunc("DELETE "+base+"/{upload_id}", authMiddleware.RequireAuth(scoped(h.Delete)))
}

// Create handles POST /api/workspaces/{wid}/uploads
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadFormMemory); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Expected multipart form with a 'file' field"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_file", "A 'file' field is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "read_failed", "Failed to read uploaded file"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	upload, err := h.uploadService.CreateManual(r.Context(), userID, workspaceID, header.Filename, content)
	if err != nil {
		ServiceError(w, h.logger, err, "create_upload_failed")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: upload}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/workspaces/{wid}/uploads
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}

	limit, offset := parsePageParams(r)

	uploads, total, err := h.uploadService.List(r.Context(), userID, workspaceID, limit, offset)
	if err != nil {
		ServiceError(w, h.logger, err, "list_uploads_failed")
		return
	}

	if uploads == nil {
		uploads = make([]*models.Upload, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginatedResponse{
			Items:  uploads,
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/workspaces/{wid}/uploads/{upload_id}
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}
	uploadID, ok := parsePathID(w, r, h.logger, "upload_id", "upload")
	if !ok {
		return
	}

	upload, err := h.uploadService.Get(r.Context(), userID, workspaceID, uploadID)
	if err != nil {
		ServiceError(w, h.logger, err, "get_upload_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: upload}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/workspaces/{wid}/uploads/{upload_id}
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}
	uploadID, ok := parsePathID(w, r, h.logger, "upload_id", "upload")
	if !ok {
		return
	}

	if err := h.uploadService.Delete(r.Context(), userID, workspaceID, uploadID); err != nil {
		ServiceError(w, h.logger, err, "delete_upload_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Download handles GET /api/workspaces/{wid}/uploads/{upload_id}/download
func (h *UploadHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, workspaceID, ok := requestScope(w, r, h.logger)
	if !ok {
		return
	}
	uploadID, ok := parsePathID(w, r, h.logger, "upload_id", "upload")
	if !ok {
		return
	}

	url, err := h.uploadService.DownloadURL(r.Context(), userID, workspaceID, uploadID)
	if err != nil {
		ServiceError(w, h.logger, err, "download_upload_failed")
		return
	}
	if url == "" {
		// Polled uploads keep their CSV in the database instead of the
		// blob store; serve that copy directly.
		upload, err := h.uploadService.Get(r.Context(), userID, workspaceID, uploadID)
		if err != nil {
			ServiceError(w, h.logger, err, "download_upload_failed")
			return
		}
		if upload.Content == "" {
			if err := ErrorResponse(w, http.StatusNotFound, "no_stored_file", "This upload has no stored raw file"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", upload.Filename))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(upload.Content)); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]string{"url": url}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
