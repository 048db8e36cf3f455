package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/apperrors"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/ws"
)

// PollService runs the full poll pipeline for one workspace: fetch the
// snapshot, record the outcome with the circuit breaker, analyze it, and
// evaluate alert rules. It is invoked by the scheduler and by the manual
// poll endpoint; both paths share the same semantics.
type PollService interface {
	Poll(ctx context.Context, workspaceID uuid.UUID) error
}

type pollService struct {
	workspaceRepo repositories.WorkspaceRepository
	uploadRepo    repositories.UploadRepository
	apiFetcher    APIFetcher
	dbFetcher     DBFetcher
	guard         PollerGuard
	analyzer      Analyzer
	alertEngine   AlertEngine
	hub           *ws.Hub
	maxUploads    int
	logger        *zap.Logger
}

// NewPollService wires the poll pipeline together.
func NewPollService(
	workspaceRepo repositories.WorkspaceRepository,
	uploadRepo repositories.UploadRepository,
	apiFetcher APIFetcher,
	dbFetcher DBFetcher,
	guard PollerGuard,
	analyzer Analyzer,
	alertEngine AlertEngine,
	hub *ws.Hub,
	maxUploads int,
	logger *zap.Logger,
) PollService {
	return &pollService{
		workspaceRepo: workspaceRepo,
		uploadRepo:    uploadRepo,
		apiFetcher:    apiFetcher,
		dbFetcher:     dbFetcher,
		guard:         guard,
		analyzer:      analyzer,
		alertEngine:   alertEngine,
		hub:           hub,
		maxUploads:    maxUploads,
		logger:        logger.Named("poll-service"),
	}
}

var _ PollService = (*pollService)(nil)

func (s *pollService) Poll(ctx context.Context, workspaceID uuid.UUID) error {
	workspace, err := s.workspaceRepo.GetByID(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to load workspace: %w", err)
	}
	if workspace == nil {
		return apperrors.ErrNotFound
	}
	if !workspace.Pollable() {
		return apperrors.ErrSourceNotConfigured
	}
	if !workspace.IsPollingActive {
		return apperrors.ErrPollingDisabled
	}

	// Polling must not grow a workspace past its snapshot limit. Reaching
	// it is a hard failure so the breaker disables the source immediately.
	count, err := s.uploadRepo.CountByWorkspace(ctx, workspace.ID)
	if err != nil {
		return fmt.Errorf("failed to count uploads: %w", err)
	}
	if count >= s.maxUploads {
		return s.reportFailure(ctx, workspace, HardFailure(fmt.Sprintf(
			"the workspace has reached its limit of %d stored snapshots; delete old uploads to resume polling",
			s.maxUploads), nil))
	}

	upload, pollErr := s.fetch(ctx, workspace)
	if pollErr != nil {
		return s.reportFailure(ctx, workspace, pollErr)
	}

	if err := s.guard.ReportSuccess(ctx, workspace.ID); err != nil {
		s.logger.Error("failed to record poll success",
			zap.String("workspace_id", workspace.ID.String()),
			zap.Error(err))
	}

	s.hub.BroadcastToWorkspace(ctx, workspace.ID, &ws.Event{
		Type: ws.EventPollComplete,
		Payload: map[string]any{
			"upload_id":   upload.ID.String(),
			"upload_type": string(upload.UploadType),
			"filename":    upload.Filename,
		},
	})

	// The fetch succeeded, so analysis failures from here on do not touch
	// polling state; the snapshot is simply left unanalyzed.
	if err := s.analyzer.Analyze(ctx, workspace, upload); err != nil {
		s.logger.Error("analysis failed",
			zap.String("workspace_id", workspace.ID.String()),
			zap.String("upload_id", upload.ID.String()),
			zap.Error(err))
		return nil
	}

	if err := s.alertEngine.EvaluateUpload(ctx, workspace, upload); err != nil {
		s.logger.Error("alert evaluation failed",
			zap.String("workspace_id", workspace.ID.String()),
			zap.String("upload_id", upload.ID.String()),
			zap.Error(err))
	}
	return nil
}

// reportFailure records a poll failure with the circuit breaker and shapes
// the returned error depending on whether the breaker tripped.
func (s *pollService) reportFailure(ctx context.Context, workspace *models.Workspace, pollErr *PollFailure) error {
	disabled, guardErr := s.guard.ReportFailure(ctx, workspace.ID, pollErr)
	if guardErr != nil {
		s.logger.Error("failed to record poll failure",
			zap.String("workspace_id", workspace.ID.String()),
			zap.Error(guardErr))
	}
	if disabled {
		return fmt.Errorf("polling disabled: %w", pollErr)
	}
	return pollErr
}

func (s *pollService) fetch(ctx context.Context, workspace *models.Workspace) (*models.Upload, *PollFailure) {
	switch workspace.DataSource {
	case models.DataSourceAPI:
		return s.apiFetcher.Fetch(ctx, workspace)
	case models.DataSourceDB:
		return s.dbFetcher.Fetch(ctx, workspace)
	}
	return nil, HardFailure("workspace has no pollable data source", nil)
}
