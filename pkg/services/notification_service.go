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
)

// NotificationService gives users read and acknowledge access to their own
// notifications.
type NotificationService interface {
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

type notificationService struct {
	notificationRepo repositories.NotificationRepository
	logger           *zap.Logger
}

// NewNotificationService creates the notification inbox service.
func NewNotificationService(notificationRepo repositories.NotificationRepository, logger *zap.Logger) NotificationService {
	return &notificationService{
		notificationRepo: notificationRepo,
		logger:           logger.Named("notification-service"),
	}
}

var _ NotificationService = (*notificationService)(nil)

func (s *notificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int, error) {
	return s.notificationRepo.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if err := s.notificationRepo.MarkRead(ctx, userID, notificationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return s.notificationRepo.MarkAllRead(ctx, userID)
}
