package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

// RateLimitConfig holds the per-IP limit for public endpoints. This is a
// coarse edge limit in front of the per-(email, ip) login limiter.
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// AuthenticatedRateLimitConfig holds per-user limits for authenticated routes
type AuthenticatedRateLimitConfig struct {
	ReadOperationsPerMinute  int
	WriteOperationsPerMinute int
	AdminOperationsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints
func DefaultAuthRateLimit(ipConfig *pkghttp.IPConfig) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		IPConfig:          ipConfig,
	}
}

// DefaultAuthenticatedRateLimit returns the per-user defaults
func DefaultAuthenticatedRateLimit() AuthenticatedRateLimitConfig {
	return AuthenticatedRateLimitConfig{
		ReadOperationsPerMinute:  120,
		WriteOperationsPerMinute: 30,
		AdminOperationsPerMinute: 60,
	}
}

// RateLimitByIP limits requests by client IP, honoring trusted proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUserID limits authenticated requests per user. The bucket is
// chosen by operation: "read", "write" or "admin". Requests without a
// principal fall back to the client IP.
func RateLimitByUserID(config AuthenticatedRateLimitConfig, operation string) func(next http.Handler) http.Handler {
	limit := config.ReadOperationsPerMinute
	switch operation {
	case "write":
		limit = config.WriteOperationsPerMinute
	case "admin":
		limit = config.AdminOperationsPerMinute
	}

	return httprate.Limit(
		limit,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				return operation + ":user:" + claims.UserID, nil
			}
			return operation + ":ip:" + pkghttp.ExtractClientIP(r, nil), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// limitExceeded writes the standard 429 body, reusing the Retry-After value
// httprate computed for the window when one is present.
func limitExceeded(w http.ResponseWriter, _ *http.Request) {
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter <= 0 {
		retryAfter = int(time.Minute.Seconds())
	}
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", retryAfter)
}
