// Package auth validates session tokens issued by the identity layer.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the session token claims the engine cares about. The identity
// layer signs tokens with the shared HS256 secret; the engine only verifies
// and extracts the user identity.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID parses the token subject as the authenticated user's ID.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}
