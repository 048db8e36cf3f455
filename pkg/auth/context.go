package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// ClaimsKey is the context key for validated token claims.
	ClaimsKey contextKey = "authClaims"
	// UserIDKey is the context key for the authenticated user's ID.
	UserIDKey contextKey = "authUserID"
)

// GetClaims retrieves validated claims from context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetUserID retrieves the authenticated user's ID from context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}

// SetIdentity stores claims and the resolved user ID in context.
func SetIdentity(ctx context.Context, claims *Claims, userID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, UserIDKey, userID)
}
