package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/notify"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/ws"
)

// deliveryTimeout bounds one outbound email attempt.
const deliveryTimeout = 30 * time.Second

// Dispatcher fans outbound events out to live websocket clients, the
// notification inbox, and email. Delivery is at-least-once and asynchronous
// relative to the caller; a failed channel is logged, never propagated back
// into the pipeline.
type Dispatcher interface {
	DispatchSchemaChange(ctx context.Context, event *notify.SchemaChangeEvent)
	DispatchThresholdAlerts(ctx context.Context, event *notify.ThresholdEvent)
}

type dispatcher struct {
	hub              *ws.Hub
	notificationRepo repositories.NotificationRepository
	mailer           notify.Mailer
	logger           *zap.Logger
}

// NewDispatcher creates the outbound event dispatcher. mailer may be nil;
// events are then delivered over websockets and the inbox only.
func NewDispatcher(hub *ws.Hub, notificationRepo repositories.NotificationRepository, mailer notify.Mailer, logger *zap.Logger) Dispatcher {
	return &dispatcher{
		hub:              hub,
		notificationRepo: notificationRepo,
		mailer:           mailer,
		logger:           logger.Named("dispatcher"),
	}
}

var _ Dispatcher = (*dispatcher)(nil)

func (d *dispatcher) DispatchSchemaChange(ctx context.Context, event *notify.SchemaChangeEvent) {
	d.hub.BroadcastToWorkspace(ctx, event.WorkspaceID, &ws.Event{
		Type: ws.EventSchemaChange,
		Payload: map[string]any{
			"upload_id":        event.UploadID.String(),
			"added_columns":    event.AddedColumns,
			"removed_columns":  event.RemovedColumns,
			"row_count_before": event.RowCountBefore,
			"row_count_after":  event.RowCountAfter,
			"row_change_pct":   event.RowChangePct,
			"narrative":        event.Narrative,
		},
	})

	d.persistInbox(ctx, event.WorkspaceID, event.Recipients, schemaChangeMessage(event),
		models.SchemaChangeFingerprint(event.UploadID, event.WorkspaceID))

	for _, user := range event.Recipients {
		d.hub.NotifyUser(ctx, user.ID, &ws.Event{
			Type:        ws.EventNotification,
			WorkspaceID: &event.WorkspaceID,
			Payload: map[string]any{
				"message": schemaChangeMessage(event),
			},
		})
	}

	d.sendEmail(event.Recipients, func(mctx context.Context, to []string) error {
		return d.mailer.SendSchemaChange(mctx, to, event)
	})
}

// persistInbox writes one notification row per recipient. The idempotency
// key keeps a re-analyzed upload from duplicating its inbox entries.
// Alert-rule violations are persisted by the alert engine instead, where
// the insert doubles as the evaluated-once record.
func (d *dispatcher) persistInbox(ctx context.Context, workspaceID uuid.UUID, recipients []*models.User, message, key string) {
	notifications := make([]*models.Notification, 0, len(recipients))
	for _, user := range recipients {
		wid := workspaceID
		k := key
		notifications = append(notifications, &models.Notification{
			UserID:         user.ID,
			WorkspaceID:    &wid,
			Message:        message,
			IdempotencyKey: &k,
		})
	}
	if len(notifications) == 0 {
		return
	}
	if _, err := d.notificationRepo.CreateBatch(ctx, notifications); err != nil {
		d.logger.Error("failed to persist inbox notifications",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
	}
}

func (d *dispatcher) DispatchThresholdAlerts(ctx context.Context, event *notify.ThresholdEvent) {
	violations := make([]map[string]any, 0, len(event.Violations))
	for _, v := range event.Violations {
		violations = append(violations, map[string]any{
			"column":    v.Column,
			"metric":    v.Metric,
			"condition": v.Condition,
			"threshold": v.Threshold,
			"actual":    v.Actual,
		})
	}

	d.hub.BroadcastToWorkspace(ctx, event.WorkspaceID, &ws.Event{
		Type: ws.EventAlertTrigger,
		Payload: map[string]any{
			"upload_id":  event.UploadID.String(),
			"violations": violations,
		},
	})

	for _, user := range event.Recipients {
		d.hub.NotifyUser(ctx, user.ID, &ws.Event{
			Type:        ws.EventNotification,
			WorkspaceID: &event.WorkspaceID,
			Payload: map[string]any{
				"message": thresholdMessage(event),
			},
		})
	}

	d.sendEmail(event.Recipients, func(mctx context.Context, to []string) error {
		return d.mailer.SendThresholdAlert(mctx, to, event)
	})
}

// sendEmail delivers in the background with its own deadline so the poll
// pipeline never waits on SMTP.
func (d *dispatcher) sendEmail(recipients []*models.User, send func(context.Context, []string) error) {
	if d.mailer == nil || len(recipients) == 0 {
		return
	}

	to := make([]string, 0, len(recipients))
	for _, user := range recipients {
		if user.Email != "" {
			to = append(to, user.Email)
		}
	}
	if len(to) == 0 {
		return
	}

	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		if err := send(mctx, to); err != nil {
			d.logger.Error("email delivery failed",
				zap.Int("recipients", len(to)),
				zap.Error(err))
		}
	}()
}

func schemaChangeMessage(event *notify.SchemaChangeEvent) string {
	var parts []string
	if len(event.AddedColumns) > 0 {
		parts = append(parts, fmt.Sprintf("added columns: %s", strings.Join(event.AddedColumns, ", ")))
	}
	if len(event.RemovedColumns) > 0 {
		parts = append(parts, fmt.Sprintf("removed columns: %s", strings.Join(event.RemovedColumns, ", ")))
	}
	if event.RowCountChanged() {
		parts = append(parts, fmt.Sprintf("row count changed from %d to %d (%+.1f%%)",
			event.RowCountBefore, event.RowCountAfter, event.RowChangePct))
	}
	return fmt.Sprintf("Schema change in %q: %s", event.WorkspaceName, strings.Join(parts, "; "))
}

func thresholdMessage(event *notify.ThresholdEvent) string {
	if len(event.Violations) == 1 {
		v := event.Violations[0]
		return fmt.Sprintf("Alert in %q: %s of %q is %g (%s %g)",
			event.WorkspaceName, v.Metric, v.Column, v.Actual, v.Condition, v.Threshold)
	}
	return fmt.Sprintf("Alert in %q: %d rules triggered", event.WorkspaceName, len(event.Violations))
}
