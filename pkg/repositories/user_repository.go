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

// UserRepository provides read access to user records. Account creation and
// credentials live in the identity layer; the engine only resolves
// identities to email addresses for alert delivery.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error)
}

type userRepository struct{}

// NewUserRepository creates a new user repository.
func NewUserRepository() UserRepository {
	return &userRepository{}
}

var _ UserRepository = (*userRepository)(nil)

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	var u models.User
	err := scope.Conn.QueryRow(ctx, `
		SELECT id, email, display_name, created_at
		FROM engine_users
		WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, email, display_name, created_at
		FROM engine_users
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
