package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

// CSRFHeaderName carries the token on state-changing requests.
const CSRFHeaderName = "X-CSRF-Token"

// CSRFProtection validates CSRF tokens on state-changing requests that carry
// the refresh cookie. Authenticated requests must present a token bound to
// their user. Public requests use the double-submit pattern: the header must
// match the csrf cookie. Requests without the refresh cookie carry no
// ambient credentials and are not checked.
func CSRFProtection(csrfManager *auth.CSRFTokenManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) || !carriesSessionCookie(r) {
				next.ServeHTTP(w, r)
				return
			}

			claims := auth.GetUserFromContext(r)
			csrfToken := r.Header.Get(CSRFHeaderName)

			if csrfToken == "" {
				logger.WarnContext(r.Context(), "CSRF token missing in request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				pkghttp.WriteError(w, http.StatusForbidden, "csrf_invalid", "CSRF token missing")
				return
			}

			if claims != nil {
				if !csrfManager.ValidateToken(csrfToken, claims.UserID) {
					logger.WarnContext(r.Context(), "CSRF token validation failed",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("user_id", claims.UserID))
					pkghttp.WriteError(w, http.StatusForbidden, "csrf_invalid", "CSRF token invalid")
					return
				}
			} else {
				cookie, err := auth.GetCSRFTokenCookie(r)
				if err != nil || subtle.ConstantTimeCompare([]byte(cookie), []byte(csrfToken)) != 1 {
					logger.WarnContext(r.Context(), "CSRF token validation failed for public endpoint",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path))
					pkghttp.WriteError(w, http.StatusForbidden, "csrf_invalid", "CSRF token invalid")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func carriesSessionCookie(r *http.Request) bool {
	_, err := auth.GetRefreshTokenCookie(r)
	return err == nil
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
