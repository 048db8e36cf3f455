package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datapulse-io/datapulse-engine/pkg/database"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// NotificationRepository provides data access for user notifications. The
// idempotency key column doubles as the alert engine's durable dedupe
// record: a unique index on (workspace_id, user_id, idempotency_key) makes
// the insert the arbiter when two evaluations race past the pre-check.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	// CreateBatch inserts one notification per recipient in a single
	// transaction. Rows that collide on the idempotency key are skipped.
	// Returns the number of rows actually inserted.
	CreateBatch(ctx context.Context, notifications []*models.Notification) (int, error)
	ExistsByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

type notificationRepository struct{}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository() NotificationRepository {
	return &notificationRepository{}
}

var _ NotificationRepository = (*notificationRepository)(nil)

const notificationColumns = `id, user_id, workspace_id, message, idempotency_key, is_read, created_at`

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_notifications (user_id, workspace_id, message, idempotency_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		notification.UserID, notification.WorkspaceID,
		notification.Message, notification.IdempotencyKey,
	).Scan(&notification.ID, &notification.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*models.Notification) (int, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no workspace scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, n := range notifications {
		tag, err := tx.Exec(ctx, `
			INSERT INTO engine_notifications (user_id, workspace_id, message, idempotency_key)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (workspace_id, user_id, idempotency_key)
			WHERE idempotency_key IS NOT NULL DO NOTHING`,
			n.UserID, n.WorkspaceID, n.Message, n.IdempotencyKey)
		if err != nil {
			return 0, fmt.Errorf("failed to insert notification: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit notifications: %w", err)
	}
	return inserted, nil
}

func (r *notificationRepository) ExistsByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (bool, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return false, fmt.Errorf("no workspace scope in context")
	}

	var exists bool
	err := scope.Conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM engine_notifications
			WHERE workspace_id = $1 AND idempotency_key = $2
		)`, workspaceID, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, 0, fmt.Errorf("no workspace scope in context")
	}

	limit, offset = normalizePageParams(limit, offset)

	where := `user_id = $1`
	if unreadOnly {
		where += ` AND is_read = false`
	}

	var total int
	if err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM engine_notifications WHERE `+where,
		userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM engine_notifications
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.WorkspaceID, &n.Message,
			&n.IdempotencyKey, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, total, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE engine_notifications
		SET is_read = true
		WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `
		UPDATE engine_notifications
		SET is_read = true
		WHERE user_id = $1 AND is_read = false`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}
