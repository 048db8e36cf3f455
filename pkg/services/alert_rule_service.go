package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/apperrors"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	sqlguard "github.com/datapulse-io/datapulse-engine/pkg/sql"
)

// AlertRuleInput carries user-supplied rule configuration.
type AlertRuleInput struct {
	ColumnName string                `json:"column_name"`
	Metric     models.AlertMetric    `json:"metric"`
	Condition  models.AlertCondition `json:"condition"`
	Value      float64               `json:"value"`
}

// AlertRuleService manages threshold rules over column statistics.
type AlertRuleService interface {
	Create(ctx context.Context, userID, workspaceID uuid.UUID, input *AlertRuleInput) (*models.AlertRule, error)
	List(ctx context.Context, userID, workspaceID uuid.UUID) ([]*models.AlertRule, error)
	SetActive(ctx context.Context, userID, workspaceID, ruleID uuid.UUID, active bool) error
	Delete(ctx context.Context, userID, workspaceID, ruleID uuid.UUID) error
}

type alertRuleService struct {
	alertRuleRepo repositories.AlertRuleRepository
	workspaceRepo repositories.WorkspaceRepository
	logger        *zap.Logger
}

// NewAlertRuleService creates the alert rule management service.
func NewAlertRuleService(alertRuleRepo repositories.AlertRuleRepository, workspaceRepo repositories.WorkspaceRepository, logger *zap.Logger) AlertRuleService {
	return &alertRuleService{
		alertRuleRepo: alertRuleRepo,
		workspaceRepo: workspaceRepo,
		logger:        logger.Named("alert-rule-service"),
	}
}

var _ AlertRuleService = (*alertRuleService)(nil)

func (s *alertRuleService) Create(ctx context.Context, userID, workspaceID uuid.UUID, input *AlertRuleInput) (*models.AlertRule, error) {
	if _, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return nil, err
	}

	if input.ColumnName == "" {
		return nil, fmt.Errorf("%w: column name is required", apperrors.ErrValidation)
	}
	// Column names are echoed into notification text and compared against
	// inferred schemas; screen them like any SQL-adjacent identifier.
	if result := sqlguard.CheckFieldForInjection("column_name", input.ColumnName); result != nil {
		return nil, fmt.Errorf("%w: column name contains a suspicious pattern", apperrors.ErrValidation)
	}
	if !input.Metric.Valid() {
		return nil, fmt.Errorf("%w: unknown metric %q", apperrors.ErrValidation, input.Metric)
	}
	if !input.Condition.Valid() {
		return nil, fmt.Errorf("%w: unknown condition %q", apperrors.ErrValidation, input.Condition)
	}

	rule := &models.AlertRule{
		WorkspaceID: workspaceID,
		ColumnName:  input.ColumnName,
		Metric:      input.Metric,
		Condition:   input.Condition,
		Value:       input.Value,
		IsActive:    true,
	}

	if err := s.alertRuleRepo.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create alert rule: %w", err)
	}

	s.logger.Info("alert rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("column", rule.ColumnName),
		zap.String("metric", string(rule.Metric)))
	return rule, nil
}

func (s *alertRuleService) List(ctx context.Context, userID, workspaceID uuid.UUID) ([]*models.AlertRule, error) {
	if _, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return nil, err
	}
	return s.alertRuleRepo.List(ctx, workspaceID)
}

func (s *alertRuleService) SetActive(ctx context.Context, userID, workspaceID, ruleID uuid.UUID, active bool) error {
	if _, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return err
	}
	if err := s.alertRuleRepo.SetActive(ctx, workspaceID, ruleID, active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update alert rule: %w", err)
	}
	return nil
}

func (s *alertRuleService) Delete(ctx context.Context, userID, workspaceID, ruleID uuid.UUID) error {
	if _, err := requireMember(ctx, s.workspaceRepo, userID, workspaceID); err != nil {
		return err
	}
	if err := s.alertRuleRepo.Delete(ctx, workspaceID, ruleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	return nil
}
