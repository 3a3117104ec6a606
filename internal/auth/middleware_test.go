package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/ledgerguard/internal/models"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(req)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestAuthMiddleware(t *testing.T) {
	user := activeUser("u1")
	tm := newTestTokenManager(usersByID(user), nil)
	session, err := tm.IssueSession(user, IssueOptions{})
	require.NoError(t, err)

	t.Run("valid access token injects claims", func(t *testing.T) {
		var claims *models.TokenClaims
		handler := AuthMiddlewareWithRevocation(tm, &MockRevocationStore{}, RevocationConfig{}, discardLogger())(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims = GetUserFromContext(r)
			}))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.NotNil(t, claims)
		assert.Equal(t, "u1", claims.UserID)
	})

	t.Run("missing header", func(t *testing.T) {
		called := false
		handler := AuthMiddlewareWithRevocation(tm, nil, RevocationConfig{}, discardLogger())(okHandler(&called))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		called := false
		handler := AuthMiddlewareWithRevocation(tm, nil, RevocationConfig{}, discardLogger())(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+session.RefreshToken)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("revoked token rejected", func(t *testing.T) {
		store := &MockRevocationStore{}
		claims, err := tm.ValidateToken(context.Background(), session.AccessToken)
		require.NoError(t, err)
		require.NoError(t, store.RevokeToken(context.Background(), claims.ID, "u1", "access", time.Now().Add(time.Hour), "logout"))

		called := false
		handler := AuthMiddlewareWithRevocation(tm, store, RevocationConfig{}, discardLogger())(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("revocation store down fails closed when configured", func(t *testing.T) {
		store := &MockRevocationStore{CheckErr: errors.New("db down")}

		called := false
		handler := AuthMiddlewareWithRevocation(tm, store, RevocationConfig{FailClosed: true}, discardLogger())(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, called)
	})

	t.Run("revocation store down fails open by default", func(t *testing.T) {
		store := &MockRevocationStore{CheckErr: errors.New("db down")}

		called := false
		handler := AuthMiddlewareWithRevocation(tm, store, RevocationConfig{}, discardLogger())(okHandler(&called))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.True(t, called)
	})
}

func TestRequireRole(t *testing.T) {
	admin := activeUser("admin1")
	admin.Role = "admin"
	member := activeUser("member1")
	repo := usersByID(admin, member)

	tests := []struct {
		name   string
		claims *models.TokenClaims
		want   int
	}{
		{"admin allowed", &models.TokenClaims{UserID: "admin1", Role: "admin"}, http.StatusOK},
		{"role claim alone is not trusted", &models.TokenClaims{UserID: "member1", Role: "admin"}, http.StatusForbidden},
		{"unknown user", &models.TokenClaims{UserID: "ghost"}, http.StatusUnauthorized},
		{"no principal", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireRole(repo, "admin")(okHandler(&called))

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.claims != nil {
				req = req.WithContext(context.WithValue(req.Context(), UserContextKey, tt.claims))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.want == http.StatusOK, called)
		})
	}
}
