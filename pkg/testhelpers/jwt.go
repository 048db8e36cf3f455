package testhelpers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignTestToken mints an HS256 session token for the given user, signed with
// the test secret. Auth flows in tests use this instead of the identity layer.
func SignTestToken(t *testing.T, secret string, userID uuid.UUID, ttl time.Duration) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return token
}

// SignTestTokenWithBearer returns the token with the "Bearer " prefix for
// Authorization headers.
func SignTestTokenWithBearer(t *testing.T, secret string, userID uuid.UUID, ttl time.Duration) string {
	return "Bearer " + SignTestToken(t, secret, userID, ttl)
}
