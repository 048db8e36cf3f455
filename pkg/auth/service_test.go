package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-signing"

func signToken(t *testing.T, secret string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(userID uuid.UUID) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestAuthService_ValidateToken(t *testing.T) {
	svc := NewAuthService(testSecret)
	userID := uuid.New()

	claims, err := svc.ValidateToken(signToken(t, testSecret, validClaims(userID)))
	require.NoError(t, err)

	parsed, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, parsed)
}

func TestAuthService_RejectsWrongSecret(t *testing.T) {
	svc := NewAuthService(testSecret)

	_, err := svc.ValidateToken(signToken(t, "other-secret", validClaims(uuid.New())))
	assert.Error(t, err)
}

func TestAuthService_RejectsExpiredToken(t *testing.T) {
	svc := NewAuthService(testSecret)

	claims := validClaims(uuid.New())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	_, err := svc.ValidateToken(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestAuthService_RejectsMissingSubject(t *testing.T) {
	svc := NewAuthService(testSecret)

	claims := validClaims(uuid.New())
	claims.Subject = ""

	_, err := svc.ValidateToken(signToken(t, testSecret, claims))
	assert.Error(t, err)
}

func TestAuthService_RejectsUnsignedToken(t *testing.T) {
	svc := NewAuthService(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims(uuid.New()))
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestAuthService_ValidateRequest(t *testing.T) {
	svc := NewAuthService(testSecret)
	userID := uuid.New()
	token := signToken(t, testSecret, validClaims(userID))

	t.Run("authorization header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/workspaces", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		claims, err := svc.ValidateRequest(r)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), claims.Subject)
	})

	t.Run("query parameter for websocket upgrades", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/ws/notifications?token="+token, nil)

		claims, err := svc.ValidateRequest(r)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), claims.Subject)
	})

	t.Run("no token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/workspaces", nil)
		_, err := svc.ValidateRequest(r)
		assert.Error(t, err)
	})

	t.Run("query parameter ignored off websocket routes", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/workspaces?token="+token, nil)
		_, err := svc.ValidateRequest(r)
		assert.Error(t, err)
	})
}
