package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/notify"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
)

// AlertEngine evaluates a workspace's active rules against one analyzed
// upload. Evaluation is idempotent per upload: once any rule triggers and
// notifications are written, re-running is a no-op. An evaluation where
// nothing triggers writes nothing and may legitimately re-run.
type AlertEngine interface {
	EvaluateUpload(ctx context.Context, workspace *models.Workspace, upload *models.Upload) error
}

type alertEngine struct {
	alertRuleRepo    repositories.AlertRuleRepository
	notificationRepo repositories.NotificationRepository
	workspaceRepo    repositories.WorkspaceRepository
	userRepo         repositories.UserRepository
	dispatcher       Dispatcher
	logger           *zap.Logger
}

// NewAlertEngine creates the threshold rule evaluator.
func NewAlertEngine(
	alertRuleRepo repositories.AlertRuleRepository,
	notificationRepo repositories.NotificationRepository,
	workspaceRepo repositories.WorkspaceRepository,
	userRepo repositories.UserRepository,
	dispatcher Dispatcher,
	logger *zap.Logger,
) AlertEngine {
	return &alertEngine{
		alertRuleRepo:    alertRuleRepo,
		notificationRepo: notificationRepo,
		workspaceRepo:    workspaceRepo,
		userRepo:         userRepo,
		dispatcher:       dispatcher,
		logger:           logger.Named("alert-engine"),
	}
}

var _ AlertEngine = (*alertEngine)(nil)

func (e *alertEngine) EvaluateUpload(ctx context.Context, workspace *models.Workspace, upload *models.Upload) error {
	if upload.AnalysisResults == nil {
		return fmt.Errorf("upload %s has no analysis results", upload.ID)
	}

	fingerprint := models.AlertFingerprint(upload.ID, workspace.ID)

	exists, err := e.notificationRepo.ExistsByIdempotencyKey(ctx, workspace.ID, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to check alert fingerprint: %w", err)
	}
	if exists {
		e.logger.Debug("alerts already evaluated for upload",
			zap.String("upload_id", upload.ID.String()))
		return nil
	}

	rules, err := e.alertRuleRepo.ListActive(ctx, workspace.ID)
	if err != nil {
		return fmt.Errorf("failed to list alert rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	violations := e.evaluate(rules, upload.AnalysisResults)
	if len(violations) == 0 {
		return nil
	}

	recipients, err := e.loadRecipients(ctx, workspace.ID)
	if err != nil {
		return fmt.Errorf("failed to load recipients: %w", err)
	}

	message := thresholdMessage(&notify.ThresholdEvent{
		WorkspaceName: workspace.Name,
		Violations:    violations,
	})

	notifications := make([]*models.Notification, 0, len(recipients))
	for _, user := range recipients {
		wid := workspace.ID
		key := fingerprint
		notifications = append(notifications, &models.Notification{
			UserID:         user.ID,
			WorkspaceID:    &wid,
			Message:        message,
			IdempotencyKey: &key,
		})
	}

	inserted, err := e.notificationRepo.CreateBatch(ctx, notifications)
	if err != nil {
		return fmt.Errorf("failed to persist alert notifications: %w", err)
	}
	if inserted == 0 {
		// A concurrent evaluation of the same upload won the insert race.
		return nil
	}

	e.logger.Info("alert rules triggered",
		zap.String("workspace_id", workspace.ID.String()),
		zap.String("upload_id", upload.ID.String()),
		zap.Int("violations", len(violations)),
		zap.Int("notifications", inserted))

	e.dispatcher.DispatchThresholdAlerts(ctx, &notify.ThresholdEvent{
		WorkspaceID:   workspace.ID,
		WorkspaceName: workspace.Name,
		UploadID:      upload.ID,
		UploadedAt:    upload.UploadedAt,
		Violations:    violations,
		Recipients:    recipients,
	})
	return nil
}

// evaluate compares every active rule against the computed statistics.
// Rules naming a missing column or an inapplicable metric are skipped
// silently, as are null statistic values.
func (e *alertEngine) evaluate(rules []*models.AlertRule, results *models.AnalysisResults) []notify.RuleViolation {
	var violations []notify.RuleViolation

	for _, rule := range rules {
		stats, ok := results.Columns[rule.ColumnName]
		if !ok {
			continue
		}
		actual := stats.Metric(string(rule.Metric))
		if actual == nil {
			continue
		}
		if rule.Matches(*actual) {
			violations = append(violations, notify.RuleViolation{
				Column:    rule.ColumnName,
				Metric:    string(rule.Metric),
				Condition: string(rule.Condition),
				Threshold: rule.Value,
				Actual:    *actual,
			})
		}
	}
	return violations
}

func (e *alertEngine) loadRecipients(ctx context.Context, workspaceID uuid.UUID) ([]*models.User, error) {
	ids, err := e.workspaceRepo.ListMemberIDs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return e.userRepo.ListByIDs(ctx, ids)
}
