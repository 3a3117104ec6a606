package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

const (
	RedirectLogin      = "/login"
	RedirectSuspended  = "/account/suspended"
	RedirectReactivate = "/account/reactivate"
	RedirectVerify     = "/verify-email"
)

// StatusGuard re-validates the account behind an authenticated request and
// tears the session down when the account may no longer be used.
type StatusGuard struct {
	Users   UserRepository
	Tokens  *TokenManager
	Revoker TokenRevoker
	CSRF    *CSRFTokenManager
	Cookies CookieConfig
	Clock   clock.Clock
	Logger  *slog.Logger

	// OnDenied is called with the rejection reason, e.g. for metrics.
	OnDenied func(reason string)
}

// RequireActiveAccount must run after AuthMiddlewareWithRevocation. Requests
// without a principal pass through untouched.
func (g *StatusGuard) RequireActiveAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r)
		if claims == nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := g.Users.GetByID(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				g.invalidate(w, r, claims, "account_missing")
				g.denied("account_missing")
				pkghttp.WriteErrorResponse(w, http.StatusUnauthorized, pkghttp.ErrorResponse{
					Error:    "unauthorized",
					Message:  "Your session is no longer valid. Please sign in again.",
					Redirect: RedirectLogin,
				})
				return
			}
			g.Logger.ErrorContext(r.Context(), "failed to load account for status check",
				slog.String("user_id", claims.UserID),
				slog.Any("error", err))
			pkghttp.WriteInternalError(w, "internal server error")
			return
		}

		if accessErr := user.AccessError(g.now()); accessErr != nil {
			reason := denialReason(accessErr)
			g.invalidate(w, r, claims, reason)
			g.denied(reason)

			g.Logger.WarnContext(r.Context(), "session terminated by account status",
				slog.String("user_id", user.ID),
				slog.String("reason", reason))

			writeStatusDenial(w, accessErr)
			return
		}

		ctx := context.WithValue(r.Context(), AccountContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireVerifiedEmail must run after RequireActiveAccount.
func RequireVerifiedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetAccountFromContext(r)
		if user == nil {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}

		if !user.EmailVerified() {
			pkghttp.WriteErrorResponse(w, http.StatusConflict, pkghttp.ErrorResponse{
				Error:    "email_not_verified",
				Message:  "Please verify your email address to continue.",
				Redirect: RedirectVerify,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *StatusGuard) now() time.Time {
	if g.Clock == nil {
		return time.Now()
	}
	return g.Clock.Now()
}

func (g *StatusGuard) denied(reason string) {
	if g.OnDenied != nil {
		g.OnDenied(reason)
	}
}

// invalidate revokes the presented access token and any refresh cookie,
// clears the refresh cookie and rotates the CSRF token.
func (g *StatusGuard) invalidate(w http.ResponseWriter, r *http.Request, claims *models.TokenClaims, reason string) {
	// The response must not depend on the revocation store being reachable.
	ctx := context.WithoutCancel(r.Context())

	g.revoke(ctx, claims, reason)

	if refresh, err := GetRefreshTokenCookie(r); err == nil && refresh != "" && g.Tokens != nil {
		if refreshClaims, err := g.Tokens.ValidateToken(ctx, refresh); err == nil {
			g.revoke(ctx, refreshClaims, reason)
		}
	}
	ClearRefreshTokenCookie(w, g.Cookies)

	if g.CSRF != nil {
		oldCSRF, _ := GetCSRFTokenCookie(r)
		if token, err := g.CSRF.Regenerate(oldCSRF, ""); err == nil {
			SetCSRFTokenCookie(w, token, g.CSRF.TTL(), g.Cookies)
		} else {
			ClearCSRFTokenCookie(w, g.Cookies)
		}
	}
}

func (g *StatusGuard) revoke(ctx context.Context, claims *models.TokenClaims, reason string) {
	if g.Revoker == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return
	}
	if err := g.Revoker.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, reason); err != nil {
		g.Logger.ErrorContext(ctx, "failed to revoke token",
			slog.String("user_id", claims.UserID),
			slog.String("jti", claims.ID),
			slog.Any("error", err))
	}
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, models.ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, models.ErrAccountInactive):
		return "account_inactive"
	default:
		return "account_suspended"
	}
}

func writeStatusDenial(w http.ResponseWriter, err error) {
	var locked *models.AccountLockedError
	switch {
	case errors.As(err, &locked):
		pkghttp.WriteErrorResponse(w, http.StatusLocked, pkghttp.ErrorResponse{
			Error:            "account_locked",
			Message:          "Your account is temporarily locked. Please sign in again later.",
			MinutesRemaining: locked.MinutesRemaining,
			Redirect:         RedirectLogin,
		})
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteErrorResponse(w, http.StatusForbidden, pkghttp.ErrorResponse{
			Error:    "account_inactive",
			Message:  "Your account is inactive.",
			Redirect: RedirectReactivate,
		})
	default:
		pkghttp.WriteErrorResponse(w, http.StatusForbidden, pkghttp.ErrorResponse{
			Error:    "account_suspended",
			Message:  "Your account has been suspended.",
			Redirect: RedirectSuspended,
		})
	}
}
