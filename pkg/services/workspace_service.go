package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/apperrors"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	sqlguard "github.com/datapulse-io/datapulse-engine/pkg/sql"
)

// WorkspaceInput carries owner-editable workspace configuration. Pointer
// fields on updates mean "leave unchanged" when nil.
type WorkspaceInput struct {
	Name            string                  `json:"name"`
	DataSource      models.DataSource       `json:"data_source"`
	PollingInterval models.PollingInterval  `json:"polling_interval"`
	APIConfig       *models.APISourceConfig `json:"api_config,omitempty"`
	DBConfig        *models.DBSourceConfig  `json:"db_config,omitempty"`
}

// WorkspaceService manages workspace configuration and membership. All
// source configuration is validated at save time; a query that fails the
// sandbox check never reaches storage.
type WorkspaceService interface {
	Create(ctx context.Context, ownerID uuid.UUID, input *WorkspaceInput) (*models.Workspace, error)
	Get(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.Workspace, error)
	Update(ctx context.Context, userID, workspaceID uuid.UUID, input *WorkspaceInput) (*models.Workspace, error)
	Delete(ctx context.Context, userID, workspaceID uuid.UUID) error
	// EnablePolling re-arms polling after an auto-disable or an owner pause.
	// This is the only way a disabled workspace resumes.
	EnablePolling(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, error)
	// PausePolling stops scheduled fetches without touching failure state.
	PausePolling(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, error)
	AddMember(ctx context.Context, userID, workspaceID, memberID uuid.UUID) error
	RemoveMember(ctx context.Context, userID, workspaceID, memberID uuid.UUID) error
}

type workspaceService struct {
	workspaceRepo repositories.WorkspaceRepository
	userRepo      repositories.UserRepository
	logger        *zap.Logger
}

// NewWorkspaceService creates the workspace configuration service.
func NewWorkspaceService(workspaceRepo repositories.WorkspaceRepository, userRepo repositories.UserRepository, logger *zap.Logger) WorkspaceService {
	return &workspaceService{
		workspaceRepo: workspaceRepo,
		userRepo:      userRepo,
		logger:        logger.Named("workspace-service"),
	}
}

var _ WorkspaceService = (*workspaceService)(nil)

func (s *workspaceService) Create(ctx context.Context, ownerID uuid.UUID, input *WorkspaceInput) (*models.Workspace, error) {
	workspace := &models.Workspace{
		OwnerID:         ownerID,
		Name:            input.Name,
		DataSource:      input.DataSource,
		PollingInterval: input.PollingInterval,
		APIConfig:       input.APIConfig,
		DBConfig:        input.DBConfig,
	}
	if workspace.DataSource == "" {
		workspace.DataSource = models.DataSourceCSV
	}
	if workspace.PollingInterval == "" {
		workspace.PollingInterval = models.IntervalDaily
	}
	workspace.NormalizeSourceConfig()

	if err := s.validate(workspace); err != nil {
		return nil, err
	}

	// A freshly configured pollable source starts active; it can only go
	// inactive through an owner pause or the circuit breaker.
	workspace.IsPollingActive = workspace.Pollable()

	if err := s.workspaceRepo.Create(ctx, workspace); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	s.logger.Info("workspace created",
		zap.String("workspace_id", workspace.ID.String()),
		zap.String("data_source", string(workspace.DataSource)))
	return workspace, nil
}

func (s *workspaceService) Get(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, error) {
	workspace, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	return workspace, nil
}

func (s *workspaceService) List(ctx context.Context, userID uuid.UUID) ([]*models.Workspace, error) {
	return s.workspaceRepo.ListByUser(ctx, userID)
}

func (s *workspaceService) Update(ctx context.Context, userID, workspaceID uuid.UUID, input *WorkspaceInput) (*models.Workspace, error) {
	workspace, err := requireOwner(ctx, s.workspaceRepo, userID, workspaceID)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		workspace.Name = input.Name
	}
	if input.DataSource != "" {
		workspace.DataSource = input.DataSource
	}
	if input.PollingInterval != "" {
		workspace.PollingInterval = input.PollingInterval
	}
	if input.APIConfig != nil {
		workspace.APIConfig = input.APIConfig
	}
	if input.DBConfig != nil {
		workspace.DBConfig = input.DBConfig
	}
	workspace.NormalizeSourceConfig()

	if err := s.validate(workspace); err != nil {
		return nil, err
	}

	if err := s.workspaceRepo.Update(ctx, workspace); err != nil {
		return nil, fmt.Errorf("failed to update workspace: %w", err)
	}
	return workspace, nil
}

func (s *workspaceService) Delete(ctx context.Context, userID, workspaceID uuid.UUID) error {
	if _, err := requireOwner(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return err
	}
	if err := s.workspaceRepo.SoftDelete(ctx, workspaceID); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	s.logger.Info("workspace deleted", zap.String("workspace_id", workspaceID.String()))
	return nil
}

func (s *workspaceService) EnablePolling(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, error) {
	workspace, err := requireOwner(ctx, s.workspaceRepo, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	if !workspace.Pollable() {
		return nil, apperrors.ErrSourceNotConfigured
	}

	if err := s.workspaceRepo.EnablePolling(ctx, workspaceID); err != nil {
		return nil, fmt.Errorf("failed to enable polling: %w", err)
	}

	s.logger.Info("polling enabled", zap.String("workspace_id", workspaceID.String()))
	return s.workspaceRepo.GetByID(ctx, workspaceID)
}

func (s *workspaceService) PausePolling(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, error) {
	workspace, err := requireOwner(ctx, s.workspaceRepo, userID, workspaceID)
	if err != nil {
		return nil, err
	}

	workspace.IsPollingActive = false
	if err := s.workspaceRepo.Update(ctx, workspace); err != nil {
		return nil, fmt.Errorf("failed to pause polling: %w", err)
	}

	s.logger.Info("polling paused", zap.String("workspace_id", workspaceID.String()))
	return workspace, nil
}

func (s *workspaceService) AddMember(ctx context.Context, userID, workspaceID, memberID uuid.UUID) error {
	if _, err := requireOwner(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return err
	}

	member, err := s.userRepo.GetByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if member == nil {
		return apperrors.ErrNotFound
	}

	if err := s.workspaceRepo.AddMember(ctx, workspaceID, memberID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (s *workspaceService) RemoveMember(ctx context.Context, userID, workspaceID, memberID uuid.UUID) error {
	if _, err := requireOwner(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return err
	}
	if err := s.workspaceRepo.RemoveMember(ctx, workspaceID, memberID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// validate checks the full workspace configuration. A workspace that fails
// validation is never written, so stored configuration is always safe to
// hand to a fetcher.
func (s *workspaceService) validate(workspace *models.Workspace) error {
	if workspace.Name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}
	switch workspace.DataSource {
	case models.DataSourceCSV, models.DataSourceAPI, models.DataSourceDB:
	default:
		return fmt.Errorf("%w: unknown data source %q", apperrors.ErrValidation, workspace.DataSource)
	}
	if !workspace.PollingInterval.Valid() {
		return fmt.Errorf("%w: unknown polling interval %q", apperrors.ErrValidation, workspace.PollingInterval)
	}

	switch workspace.DataSource {
	case models.DataSourceAPI:
		return s.validateAPIConfig(workspace.APIConfig)
	case models.DataSourceDB:
		return s.validateDBConfig(workspace.DBConfig)
	}
	return nil
}

func (s *workspaceService) validateAPIConfig(cfg *models.APISourceConfig) error {
	if cfg == nil || cfg.URL == "" {
		return fmt.Errorf("%w: api source requires a url", apperrors.ErrValidation)
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: api url must be a valid http(s) url", apperrors.ErrValidation)
	}
	if (cfg.AuthHeaderName == "") != (cfg.AuthHeaderValue == "") {
		return fmt.Errorf("%w: auth header name and value must be set together", apperrors.ErrValidation)
	}
	return nil
}

func (s *workspaceService) validateDBConfig(cfg *models.DBSourceConfig) error {
	if !cfg.Complete() {
		return fmt.Errorf("%w: db source requires engine, host, port, user, database, and query", apperrors.ErrValidation)
	}
	// Both spellings of the SQL Server engine are in the wild.
	if cfg.Engine != "postgres" && cfg.Engine != "mssql" && cfg.Engine != "sqlserver" {
		return fmt.Errorf("%w: unsupported database engine %q", apperrors.ErrValidation, cfg.Engine)
	}

	// Identifiers end up adjacent to SQL in connection strings and query
	// wrapping, so they are screened like query text.
	if results := sqlguard.CheckFields(map[string]string{
		"database": cfg.Database,
		"user":     cfg.User,
	}); len(results) > 0 {
		return fmt.Errorf("%w: field %q contains a suspicious pattern", apperrors.ErrValidation, results[0].FieldName)
	}

	if verdict := sqlguard.ValidateSandboxedQuery(cfg.Query); !verdict.OK {
		return fmt.Errorf("%w: %s", apperrors.ErrValidation, verdict.Reason)
	}
	return nil
}

// requireOwner loads the workspace and checks the caller owns it.
func requireOwner(ctx context.Context, repo repositories.WorkspaceRepository, userID, workspaceID uuid.UUID) (*models.Workspace, error) {
	workspace, err := repo.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	if workspace == nil {
		return nil, apperrors.ErrNotFound
	}
	if workspace.OwnerID != userID {
		return nil, apperrors.ErrForbidden
	}
	return workspace, nil
}

// requireMember loads the workspace and checks the caller is the owner or a
// team member.
func requireMember(ctx context.Context, repo repositories.WorkspaceRepository, userID, workspaceID uuid.UUID) (*models.Workspace, error) {
	workspace, err := repo.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	if workspace == nil {
		return nil, apperrors.ErrNotFound
	}
	if workspace.OwnerID == userID {
		return workspace, nil
	}

	memberIDs, err := repo.ListMemberIDs(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	for _, id := range memberIDs {
		if id == userID {
			return workspace, nil
		}
	}
	return nil, apperrors.ErrForbidden
}
