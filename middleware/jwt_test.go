package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTValidator_RoundTrip(t *testing.T) {
	ctx := context.Background()
	validator := NewJWTValidator("test-secret", "spendguard")

	userID := uuid.New().String()
	orgID := uuid.New().String()

	token, err := validator.IssueToken(userID, orgID, RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := validator.ValidateToken(ctx, token)
	require.NoError(t, err)

	assert.Equal(t, userID, claims.Sub)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, orgID, claims.OrgID)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "spendguard", claims.Iss)
	assert.Greater(t, claims.Exp, time.Now().Unix())
}

func TestJWTValidator_Rejections(t *testing.T) {
	ctx := context.Background()
	validator := NewJWTValidator("test-secret", "spendguard")

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTValidator("other-secret", "spendguard")
		token, err := other.IssueToken(uuid.New().String(), uuid.New().String(), RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTValidator("test-secret", "someone-else")
		token, err := other.IssueToken(uuid.New().String(), uuid.New().String(), RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := validator.IssueToken(uuid.New().String(), uuid.New().String(), RoleAdmin, -time.Minute)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing organization claim", func(t *testing.T) {
		token, err := validator.IssueToken(uuid.New().String(), "", RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrMissingClaim)
	})

	t.Run("missing role claim", func(t *testing.T) {
		token, err := validator.IssueToken(uuid.New().String(), uuid.New().String(), "", time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrMissingClaim)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := validator.ValidateToken(ctx, "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestClaims_Actor(t *testing.T) {
	t.Run("nil claims", func(t *testing.T) {
		var claims *Claims
		assert.Equal(t, "anonymous", claims.Actor())
	})

	t.Run("user id preferred", func(t *testing.T) {
		claims := &Claims{Role: RoleAdmin, UserID: "u1", Sub: "s1"}
		assert.Equal(t, "admin:u1", claims.Actor())
	})

	t.Run("falls back to subject", func(t *testing.T) {
		claims := &Claims{Role: RoleOwner, Sub: "s1"}
		assert.Equal(t, "owner:s1", claims.Actor())
	})
}
