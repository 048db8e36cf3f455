package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datapulse-io/datapulse-engine/pkg/database"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// WorkspaceRepository provides data access for workspaces and their
// membership. Polling metadata mutations are separate narrow methods so the
// pipeline never rewrites owner configuration.
type WorkspaceRepository interface {
	Create(ctx context.Context, workspace *models.Workspace) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Workspace, error)
	ListPollable(ctx context.Context) ([]*models.Workspace, error)
	Update(ctx context.Context, workspace *models.Workspace) error
	SoftDelete(ctx context.Context, id uuid.UUID) error

	RecordPollSuccess(ctx context.Context, id uuid.UUID, polledAt time.Time) error
	RecordSoftFailure(ctx context.Context, id uuid.UUID, reason string, polledAt time.Time) (int, error)
	DisablePolling(ctx context.Context, id uuid.UUID, reason string, disabledAt time.Time) error
	EnablePolling(ctx context.Context, id uuid.UUID) error

	ListMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error)
	AddMember(ctx context.Context, workspaceID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) error
}

type workspaceRepository struct{}

// NewWorkspaceRepository creates a new workspace repository.
func NewWorkspaceRepository() WorkspaceRepository {
	return &workspaceRepository{}
}

var _ WorkspaceRepository = (*workspaceRepository)(nil)

const workspaceColumns = `id, owner_id, name, data_source, api_config, db_config,
	polling_interval, is_polling_active, last_polled_at, failure_count,
	last_failure_reason, auto_disabled_at, created_at, updated_at, deleted_at`

func (r *workspaceRepository) Create(ctx context.Context, workspace *models.Workspace) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	workspace.NormalizeSourceConfig()

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_workspaces (owner_id, name, data_source, api_config, db_config,
			polling_interval, is_polling_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		workspace.OwnerID, workspace.Name, workspace.DataSource,
		workspace.APIConfig, workspace.DBConfig,
		workspace.PollingInterval, workspace.IsPollingActive,
	).Scan(&workspace.ID, &workspace.CreatedAt, &workspace.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (r *workspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+workspaceColumns+`
		FROM engine_workspaces
		WHERE id = $1 AND deleted_at IS NULL`, id)

	workspace, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return workspace, nil
}

func (r *workspaceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Workspace, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT DISTINCT `+prefixColumns("w", workspaceColumns)+`
		FROM engine_workspaces w
		LEFT JOIN engine_workspace_members m ON m.workspace_id = w.id
		WHERE (w.owner_id = $1 OR m.user_id = $1) AND w.deleted_at IS NULL
		ORDER BY w.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	return collectWorkspaces(rows)
}

// ListPollable returns workspaces the scheduler should consider: polling
// active, not soft-deleted, attached to a fetchable source type.
func (r *workspaceRepository) ListPollable(ctx context.Context) ([]*models.Workspace, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+workspaceColumns+`
		FROM engine_workspaces
		WHERE is_polling_active = true
		  AND deleted_at IS NULL
		  AND data_source IN ('api', 'db')
		ORDER BY last_polled_at NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pollable workspaces: %w", err)
	}
	defer rows.Close()

	return collectWorkspaces(rows)
}

func (r *workspaceRepository) Update(ctx context.Context, workspace *models.Workspace) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	workspace.NormalizeSourceConfig()

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE engine_workspaces
		SET name = $2, data_source = $3, api_config = $4, db_config = $5,
		    polling_interval = $6, is_polling_active = $7, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		workspace.ID, workspace.Name, workspace.DataSource,
		workspace.APIConfig, workspace.DBConfig,
		workspace.PollingInterval, workspace.IsPollingActive)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *workspaceRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE engine_workspaces
		SET deleted_at = now(), is_polling_active = false, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RecordPollSuccess stamps a successful fetch: last_polled_at advances and
// the consecutive failure counter resets. An auto-disabled workspace stays
// disabled; re-enabling is an explicit user action.
func (r *workspaceRepository) RecordPollSuccess(ctx context.Context, id uuid.UUID, polledAt time.Time) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE engine_workspaces
		SET last_polled_at = $2, failure_count = 0, last_failure_reason = NULL,
		    updated_at = now()
		WHERE id = $1`, id, polledAt)
	if err != nil {
		return fmt.Errorf("failed to record poll success: %w", err)
	}
	return nil
}

// RecordSoftFailure increments the consecutive failure counter and returns
// the new count so the caller can decide whether to escalate.
func (r *workspaceRepository) RecordSoftFailure(ctx context.Context, id uuid.UUID, reason string, polledAt time.Time) (int, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no workspace scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx, `
		UPDATE engine_workspaces
		SET failure_count = failure_count + 1, last_failure_reason = $2,
		    last_polled_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING failure_count`, id, reason, polledAt).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to record soft failure: %w", err)
	}
	return count, nil
}

// DisablePolling turns a workspace off and records why. The failure counter
// resets to zero on the transition.
func (r *workspaceRepository) DisablePolling(ctx context.Context, id uuid.UUID, reason string, disabledAt time.Time) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE engine_workspaces
		SET is_polling_active = false, failure_count = 0, last_failure_reason = $2,
		    auto_disabled_at = $3, updated_at = now()
		WHERE id = $1`, id, reason, disabledAt)
	if err != nil {
		return fmt.Errorf("failed to disable polling: %w", err)
	}
	return nil
}

// EnablePolling is the explicit user action that clears an auto-disable.
func (r *workspaceRepository) EnablePolling(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE engine_workspaces
		SET is_polling_active = true, failure_count = 0, last_failure_reason = NULL,
		    auto_disabled_at = NULL, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to enable polling: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListMemberIDs returns the owner plus every team member, deduplicated.
func (r *workspaceRepository) ListMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT owner_id FROM engine_workspaces WHERE id = $1
		UNION
		SELECT user_id FROM engine_workspace_members WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return ids, nil
}

func (r *workspaceRepository) AddMember(ctx context.Context, workspaceID, userID uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO engine_workspace_members (workspace_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (workspace_id, user_id) DO NOTHING`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to add workspace member: %w", err)
	}
	return nil
}

func (r *workspaceRepository) RemoveMember(ctx context.Context, workspaceID, userID uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		DELETE FROM engine_workspace_members
		WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove workspace member: %w", err)
	}
	return nil
}

func scanWorkspace(row pgx.Row) (*models.Workspace, error) {
	var w models.Workspace
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.Name, &w.DataSource, &w.APIConfig, &w.DBConfig,
		&w.PollingInterval, &w.IsPollingActive, &w.LastPolledAt, &w.FailureCount,
		&w.LastFailureReason, &w.AutoDisabledAt, &w.CreatedAt, &w.UpdatedAt, &w.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func collectWorkspaces(rows pgx.Rows) ([]*models.Workspace, error) {
	var workspaces []*models.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspaces: %w", err)
	}
	return workspaces, nil
}
