package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datapulse-io/datapulse-engine/pkg/database"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// UploadRepository provides data access for ingested snapshots.
type UploadRepository interface {
	Create(ctx context.Context, upload *models.Upload) error
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Upload, error)
	List(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*models.Upload, int, error)
	CountByWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error)
	// PreviousAnalyzed returns the most recent analyzed upload of the same
	// type in the workspace that was ingested before the given upload, or
	// nil when this is the first of its kind.
	PreviousAnalyzed(ctx context.Context, upload *models.Upload) (*models.Upload, error)
	SaveAnalysis(ctx context.Context, upload *models.Upload) error
	Delete(ctx context.Context, workspaceID, id uuid.UUID) error
}

type uploadRepository struct{}

// NewUploadRepository creates a new upload repository.
func NewUploadRepository() UploadRepository {
	return &uploadRepository{}
}

var _ UploadRepository = (*uploadRepository)(nil)

const uploadColumns = `id, workspace_id, upload_type, filename, content, storage_key,
	uploaded_at, schema_info, analysis_results, schema_changed_from_previous, analyzed_at`

func (r *uploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_uploads (workspace_id, upload_type, filename, content, storage_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, uploaded_at`,
		upload.WorkspaceID, upload.UploadType, upload.Filename,
		upload.Content, upload.StorageKey,
	).Scan(&upload.ID, &upload.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	return nil
}

func (r *uploadRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.Upload, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+uploadColumns+`
		FROM engine_uploads
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id)

	upload, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

func (r *uploadRepository) List(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*models.Upload, int, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, 0, fmt.Errorf("no workspace scope in context")
	}

	limit, offset = normalizePageParams(limit, offset)

	var total int
	if err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM engine_uploads WHERE workspace_id = $1`,
		workspaceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count uploads: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+uploadColumns+`
		FROM engine_uploads
		WHERE workspace_id = $1
		ORDER BY uploaded_at DESC
		LIMIT $2 OFFSET $3`, workspaceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating uploads: %w", err)
	}
	return uploads, total, nil
}

func (r *uploadRepository) CountByWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no workspace scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM engine_uploads WHERE workspace_id = $1`,
		workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count uploads: %w", err)
	}
	return count, nil
}

func (r *uploadRepository) PreviousAnalyzed(ctx context.Context, upload *models.Upload) (*models.Upload, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+uploadColumns+`
		FROM engine_uploads
		WHERE workspace_id = $1
		  AND upload_type = $2
		  AND id != $3
		  AND uploaded_at < $4
		  AND analyzed_at IS NOT NULL
		ORDER BY uploaded_at DESC
		LIMIT 1`,
		upload.WorkspaceID, upload.UploadType, upload.ID, upload.UploadedAt)

	prev, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get previous upload: %w", err)
	}
	return prev, nil
}

// SaveAnalysis writes the analyzer's output and stamps analyzed_at. The
// content column is left untouched.
func (r *uploadRepository) SaveAnalysis(ctx context.Context, upload *models.Upload) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		UPDATE engine_uploads
		SET schema_info = $3, analysis_results = $4,
		    schema_changed_from_previous = $5, analyzed_at = now()
		WHERE workspace_id = $1 AND id = $2
		RETURNING analyzed_at`,
		upload.WorkspaceID, upload.ID,
		upload.SchemaInfo, upload.AnalysisResults, upload.SchemaChangedFromPrevious,
	).Scan(&upload.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

func (r *uploadRepository) Delete(ctx context.Context, workspaceID, id uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		DELETE FROM engine_uploads
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanUpload(row pgx.Row) (*models.Upload, error) {
	var u models.Upload
	err := row.Scan(
		&u.ID, &u.WorkspaceID, &u.UploadType, &u.Filename, &u.Content, &u.StorageKey,
		&u.UploadedAt, &u.SchemaInfo, &u.AnalysisResults, &u.SchemaChangedFromPrevious, &u.AnalyzedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
