package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubValidator returns a fixed claims/error pair for any token
type stubValidator struct {
	claims *Claims
	err    error
}

func (s *stubValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	return s.claims, s.err
}

func passthroughHandler(captured **http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = r
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_RequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("missing header", func(t *testing.T) {
		mw := NewAuthMiddleware(&stubValidator{}, logger)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		mw.RequireAuth(passthroughHandler(nil)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-bearer scheme", func(t *testing.T) {
		mw := NewAuthMiddleware(&stubValidator{}, logger)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		mw.RequireAuth(passthroughHandler(nil)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		mw := NewAuthMiddleware(&stubValidator{err: ErrInvalidToken}, logger)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		rec := httptest.NewRecorder()

		mw.RequireAuth(passthroughHandler(nil)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token puts claims in context", func(t *testing.T) {
		claims := &Claims{Sub: "u1", OrgID: uuid.New().String(), Role: RoleAdmin}
		mw := NewAuthMiddleware(&stubValidator{claims: claims}, logger)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		rec := httptest.NewRecorder()

		var seen *http.Request
		mw.RequireAuth(passthroughHandler(&seen)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, claims, GetClaimsFromContext(seen.Context()))
	})
}

func TestAuthMiddleware_ExtractTenant(t *testing.T) {
	logger := zap.NewNop()
	mw := NewAuthMiddleware(&stubValidator{}, logger)

	t.Run("missing claims", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		mw.ExtractTenant(passthroughHandler(nil)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid organization id", func(t *testing.T) {
		claims := &Claims{Sub: "u1", OrgID: "not-a-uuid", Role: RoleAdmin}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		rec := httptest.NewRecorder()

		mw.ExtractTenant(passthroughHandler(nil)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid claims set tenant and user", func(t *testing.T) {
		orgID := uuid.New()
		userID := uuid.New()
		claims := &Claims{
			Sub:    userID.String(),
			UserID: userID.String(),
			OrgID:  orgID.String(),
			Role:   RoleEditor,
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		rec := httptest.NewRecorder()

		var seen *http.Request
		mw.ExtractTenant(passthroughHandler(&seen)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, orgID, GetOrgIDFromContext(seen.Context()))
		got := GetUserIDFromContext(seen.Context())
		require.NotNil(t, got)
		assert.Equal(t, userID, *got)
	})

	t.Run("unparseable user id is ignored", func(t *testing.T) {
		claims := &Claims{Sub: "u1", UserID: "bogus", OrgID: uuid.New().String(), Role: RoleViewer}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		rec := httptest.NewRecorder()

		var seen *http.Request
		mw.ExtractTenant(passthroughHandler(&seen)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Nil(t, GetUserIDFromContext(seen.Context()))
	})
}

func TestAuthMiddleware_RequireRole(t *testing.T) {
	logger := zap.NewNop()
	mw := NewAuthMiddleware(&stubValidator{}, logger)

	withRole := func(role string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		claims := &Claims{Sub: "u1", OrgID: uuid.New().String(), Role: role}
		return req.WithContext(WithClaims(req.Context(), claims))
	}

	t.Run("matching role passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.RequireRole(RoleOwner, RoleAdmin)(passthroughHandler(nil)).ServeHTTP(rec, withRole(RoleAdmin))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-matching role forbidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.RequireRole(RoleOwner, RoleAdmin)(passthroughHandler(nil)).ServeHTTP(rec, withRole(RoleViewer))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing claims unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		mw.RequireRole(RoleOwner)(passthroughHandler(nil)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "empty header", header: "", want: ""},
		{name: "bearer token", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "scheme only", header: "Bearer", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(req))
		})
	}
}
