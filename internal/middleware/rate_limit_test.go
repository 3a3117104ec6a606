package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/models"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func withClaims(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID, Type: models.TokenTypeAccess}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

func TestRateLimitByIP_Returns429AfterLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
}

func TestRateLimitByIP_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(okHandler)

	first := httptest.NewRequest(http.MethodPost, "/", nil)
	first.RemoteAddr = "192.0.2.20:4000"
	first.Header.Set("X-Forwarded-For", "198.51.100.1")
	handler.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/", nil)
	second.RemoteAddr = "192.0.2.20:4000"
	second.Header.Set("X-Forwarded-For", "198.51.100.2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, second)

	assert.Equal(t, http.StatusTooManyRequests, w.Code, "untrusted peers cannot pick their own bucket")
}

func TestRateLimitByIP_TrustedProxy(t *testing.T) {
	config := RateLimitConfig{RequestsPerMinute: 1, IPConfig: pkghttp.NewIPConfig([]string{"10.0.0.0/8"})}
	handler := RateLimitByIP(config)(okHandler)

	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.5:4000"
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "client %s has its own bucket", client)
	}
}

func TestRateLimitByUserID_EnforcesOperationLimits(t *testing.T) {
	config := AuthenticatedRateLimitConfig{
		ReadOperationsPerMinute:  4,
		WriteOperationsPerMinute: 2,
		AdminOperationsPerMinute: 3,
	}

	tests := []struct {
		operation string
		limit     int
	}{
		{"read", 4},
		{"write", 2},
		{"admin", 3},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			handler := RateLimitByUserID(config, tt.operation)(okHandler)
			userID := "user-" + tt.operation

			for i := 0; i < tt.limit; i++ {
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), userID))
				require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), userID))
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
		})
	}
}

func TestRateLimitByUserID_IsolatesUserBuckets(t *testing.T) {
	handler := RateLimitByUserID(AuthenticatedRateLimitConfig{ReadOperationsPerMinute: 1}, "read")(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), "user-a"))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), "user-b"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withClaims(httptest.NewRequest(http.MethodGet, "/", nil), "user-a"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitByUserID_FallbackToIP(t *testing.T) {
	handler := RateLimitByUserID(AuthenticatedRateLimitConfig{ReadOperationsPerMinute: 1}, "read")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.30:8080"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.30:8080"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
