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

// AlertRuleRepository provides data access for threshold rules.
type AlertRuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.AlertRule, error)
	List(ctx context.Context, workspaceID uuid.UUID) ([]*models.AlertRule, error)
	ListActive(ctx context.Context, workspaceID uuid.UUID) ([]*models.AlertRule, error)
	SetActive(ctx context.Context, workspaceID, id uuid.UUID, active bool) error
	Delete(ctx context.Context, workspaceID, id uuid.UUID) error
}

type alertRuleRepository struct{}

// NewAlertRuleRepository creates a new alert rule repository.
func NewAlertRuleRepository() AlertRuleRepository {
	return &alertRuleRepository{}
}

var _ AlertRuleRepository = (*alertRuleRepository)(nil)

const alertRuleColumns = `id, workspace_id, column_name, metric, condition, value,
	is_active, created_at, updated_at`

func (r *alertRuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_alert_rules (workspace_id, column_name, metric, condition, value, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		rule.WorkspaceID, rule.ColumnName, rule.Metric, rule.Condition,
		rule.Value, rule.IsActive,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

func (r *alertRuleRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*models.AlertRule, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+alertRuleColumns+`
		FROM engine_alert_rules
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id)

	rule, err := scanAlertRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return rule, nil
}

func (r *alertRuleRepository) List(ctx context.Context, workspaceID uuid.UUID) ([]*models.AlertRule, error) {
	return r.list(ctx, workspaceID, false)
}

func (r *alertRuleRepository) ListActive(ctx context.Context, workspaceID uuid.UUID) ([]*models.AlertRule, error) {
	return r.list(ctx, workspaceID, true)
}

func (r *alertRuleRepository) list(ctx context.Context, workspaceID uuid.UUID, activeOnly bool) ([]*models.AlertRule, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	query := `
		SELECT ` + alertRuleColumns + `
		FROM engine_alert_rules
		WHERE workspace_id = $1`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := scope.Conn.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rules: %w", err)
	}
	return rules, nil
}

func (r *alertRuleRepository) SetActive(ctx context.Context, workspaceID, id uuid.UUID, active bool) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE engine_alert_rules
		SET is_active = $3, updated_at = now()
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id, active)
	if err != nil {
		return fmt.Errorf("failed to toggle alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *alertRuleRepository) Delete(ctx context.Context, workspaceID, id uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		DELETE FROM engine_alert_rules
		WHERE workspace_id = $1 AND id = $2`, workspaceID, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanAlertRule(row pgx.Row) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := row.Scan(
		&rule.ID, &rule.WorkspaceID, &rule.ColumnName, &rule.Metric, &rule.Condition,
		&rule.Value, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
