package services

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/apperrors"
	"github.com/datapulse-io/datapulse-engine/pkg/config"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/storage"
	"github.com/datapulse-io/datapulse-engine/pkg/ws"
)

// UploadService handles manual snapshot uploads and read access to upload
// history. Manual uploads run through the same analyze-and-alert pipeline
// as scheduled fetches, synchronously, so the response reflects the
// completed analysis.
type UploadService interface {
	CreateManual(ctx context.Context, userID, workspaceID uuid.UUID, filename string, content []byte) (*models.Upload, error)
	Get(ctx context.Context, userID, workspaceID, uploadID uuid.UUID) (*models.Upload, error)
	List(ctx context.Context, userID, workspaceID uuid.UUID, limit, offset int) ([]*models.Upload, int, error)
	// DownloadURL returns a time-limited link to the raw stored file, or an
	// empty string when the upload has no blob-store copy.
	DownloadURL(ctx context.Context, userID, workspaceID, uploadID uuid.UUID) (string, error)
	// Delete removes an upload and its blob-store copy. Owner only.
	Delete(ctx context.Context, userID, workspaceID, uploadID uuid.UUID) error
}

type uploadService struct {
	uploadRepo    repositories.UploadRepository
	workspaceRepo repositories.WorkspaceRepository
	blobs         storage.BlobStore
	analyzer      Analyzer
	alertEngine   AlertEngine
	hub           *ws.Hub
	caps          config.FetchConfig
	signedURLTTL  time.Duration
	logger        *zap.Logger
}

// NewUploadService creates the manual upload service.
func NewUploadService(
	uploadRepo repositories.UploadRepository,
	workspaceRepo repositories.WorkspaceRepository,
	blobs storage.BlobStore,
	analyzer Analyzer,
	alertEngine AlertEngine,
	hub *ws.Hub,
	caps config.FetchConfig,
	signedURLTTL time.Duration,
	logger *zap.Logger,
) UploadService {
	return &uploadService{
		uploadRepo:    uploadRepo,
		workspaceRepo: workspaceRepo,
		blobs:         blobs,
		analyzer:      analyzer,
		alertEngine:   alertEngine,
		hub:           hub,
		caps:          caps,
		signedURLTTL:  signedURLTTL,
		logger:        logger.Named("upload-service"),
	}
}

var _ UploadService = (*uploadService)(nil)

func (s *uploadService) CreateManual(ctx context.Context, userID, workspaceID uuid.UUID, filename string, content []byte) (*models.Upload, error) {
	workspace, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID)
	if err != nil {
		return nil, err
	}

	if len(content) == 0 {
		return nil, fmt.Errorf("%w: file is empty", apperrors.ErrValidation)
	}
	if int64(len(content)) > s.caps.MaxResponseBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrValidation, s.caps.MaxResponseBytes)
	}

	count, err := s.uploadRepo.CountByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to count uploads: %w", err)
	}
	if count >= s.caps.MaxUploadsPerWorkspace {
		return nil, apperrors.ErrUploadLimitReached
	}

	upload := &models.Upload{
		WorkspaceID: workspaceID,
		UploadType:  models.UploadTypeManual,
		Filename:    filename,
		Content:     string(content),
	}

	if key := s.storeRaw(ctx, workspaceID, filename, content); key != "" {
		upload.StorageKey = &key
	}

	if err := s.uploadRepo.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", err)
	}

	s.logger.Info("manual upload created",
		zap.String("upload_id", upload.ID.String()),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("filename", filename),
		zap.Int("bytes", len(content)))

	s.hub.BroadcastToWorkspace(ctx, workspaceID, &ws.Event{
		Type: ws.EventUploadCreated,
		Payload: map[string]any{
			"upload_id": upload.ID.String(),
			"filename":  upload.Filename,
		},
	})

	if err := s.analyzer.Analyze(ctx, workspace, upload); err != nil {
		// The upload row stays; the owner sees it unanalyzed.
		return nil, fmt.Errorf("%w: file could not be parsed as CSV", apperrors.ErrValidation)
	}

	if err := s.alertEngine.EvaluateUpload(ctx, workspace, upload); err != nil {
		s.logger.Error("alert evaluation failed",
			zap.String("upload_id", upload.ID.String()),
			zap.Error(err))
	}

	return upload, nil
}

func (s *uploadService) Get(ctx context.Context, userID, workspaceID, uploadID uuid.UUID) (*models.Upload, error) {
	if _, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return nil, err
	}

	upload, err := s.uploadRepo.GetByID(ctx, workspaceID, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}
	if upload == nil {
		return nil, apperrors.ErrNotFound
	}
	return upload, nil
}

func (s *uploadService) List(ctx context.Context, userID, workspaceID uuid.UUID, limit, offset int) ([]*models.Upload, int, error) {
	if _, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return nil, 0, err
	}
	return s.uploadRepo.List(ctx, workspaceID, limit, offset)
}

func (s *uploadService) DownloadURL(ctx context.Context, userID, workspaceID, uploadID uuid.UUID) (string, error) {
	upload, err := s.Get(ctx, userID, workspaceID, uploadID)
	if err != nil {
		return "", err
	}
	if upload.StorageKey == nil {
		return "", nil
	}
	return s.blobs.SignedURL(ctx, *upload.StorageKey, s.signedURLTTL)
}

func (s *uploadService) Delete(ctx context.Context, userID, workspaceID, uploadID uuid.UUID) error {
	if _, err := requireOwner(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return err
	}

	upload, err := s.uploadRepo.GetByID(ctx, workspaceID, uploadID)
	if err != nil {
		return fmt.Errorf("failed to load upload: %w", err)
	}
	if upload == nil {
		return apperrors.ErrNotFound
	}

	if err := s.uploadRepo.Delete(ctx, workspaceID, uploadID); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}

	// Blob cleanup is best effort; an orphaned object is harmless.
	if upload.StorageKey != nil {
		if err := s.blobs.Delete(ctx, *upload.StorageKey); err != nil {
			s.logger.Warn("failed to delete raw upload",
				zap.String("storage_key", *upload.StorageKey),
				zap.Error(err))
		}
	}

	s.logger.Info("upload deleted",
		zap.String("upload_id", uploadID.String()),
		zap.String("workspace_id", workspaceID.String()))
	return nil
}

// storeRaw writes the original bytes to blob storage. Failures degrade to
// row-only storage.
func (s *uploadService) storeRaw(ctx context.Context, workspaceID uuid.UUID, filename string, content []byte) string {
	key := path.Join("uploads", workspaceID.String(), uuid.NewString(), filename)
	if err := s.blobs.Put(ctx, key, content, "text/csv"); err != nil {
		s.logger.Warn("failed to store raw upload",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		return ""
	}
	return key
}
