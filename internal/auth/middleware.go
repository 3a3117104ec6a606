package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/models"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
	// AccountContextKey holds the account row loaded by RequireActiveAccount
	AccountContextKey contextKey = "account"
)

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenRevoker blacklists a token by jti until it would have expired anyway.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
}

// UserRepository interface for fetching user data
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// RevocationConfig holds configuration for token revocation behavior
type RevocationConfig struct {
	FailClosed bool // Deny access when the revocation store cannot be reached
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddlewareWithRevocation validates access tokens, checks revocation and
// injects the claims into the request context.
func AuthMiddlewareWithRevocation(tm *TokenManager, revocationChecker TokenRevocationChecker, revocationConfig RevocationConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			claims, err := tm.ValidateToken(r.Context(), tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			// Refresh tokens are only accepted by /auth/refresh
			if claims.Type != models.TokenTypeAccess {
				pkghttp.WriteUnauthorized(w, "refresh tokens cannot be used for API access")
				return
			}

			if revocationChecker != nil && claims.ID != "" {
				revoked, err := revocationChecker.IsTokenRevoked(r.Context(), claims.ID)
				if err != nil {
					logger.ErrorContext(r.Context(), "token revocation check failed",
						slog.String("user_id", claims.UserID),
						slog.Any("error", err))
					if revocationConfig.FailClosed {
						pkghttp.WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "unable to verify token status")
						return
					}
				}
				if revoked {
					pkghttp.WriteUnauthorized(w, "token has been revoked")
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces the role stored on the account, not the token claim,
// so demotions take effect immediately.
func RequireRole(userRepo UserRepository, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetAccountFromContext(r)
			if user == nil {
				claims := GetUserFromContext(r)
				if claims == nil {
					pkghttp.WriteUnauthorized(w, "unauthorized")
					return
				}

				var err error
				user, err = userRepo.GetByID(r.Context(), claims.UserID)
				if err != nil {
					if errors.Is(err, models.ErrNotFound) {
						pkghttp.WriteUnauthorized(w, "user not found")
						return
					}
					pkghttp.WriteInternalError(w, "internal server error")
					return
				}
			}

			if user.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetAccountFromContext returns the account verified by RequireActiveAccount.
func GetAccountFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(AccountContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
