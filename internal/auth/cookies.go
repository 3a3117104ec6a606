package auth

import (
	"net/http"
	"time"
)

const (
	RefreshTokenCookieName = "refresh_token"
	CSRFTokenCookieName    = "csrf_token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// CookieConfigForEnv returns the defaults used by the server.
func CookieConfigForEnv(env string) CookieConfig {
	return CookieConfig{
		Secure:   env == "production",
		SameSite: "strict",
	}
}

func (c CookieConfig) cookie(name, value string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: parseSameSite(c.SameSite),
	}
}

// SetRefreshTokenCookie stores the refresh token in an httpOnly cookie. A
// non-persistent cookie has no expiry and dies with the browser session.
func SetRefreshTokenCookie(w http.ResponseWriter, refreshToken string, expiresAt time.Time, persistent bool, config CookieConfig) {
	cookie := config.cookie(RefreshTokenCookieName, refreshToken, true)
	if persistent {
		cookie.Expires = expiresAt
		cookie.MaxAge = int(time.Until(expiresAt).Seconds())
	}
	http.SetCookie(w, cookie)
}

// SetCSRFTokenCookie sets a CSRF token in a readable cookie (not httpOnly)
// JavaScript needs to read this and send it in X-CSRF-Token header
func SetCSRFTokenCookie(w http.ResponseWriter, csrfToken string, ttl time.Duration, config CookieConfig) {
	cookie := config.cookie(CSRFTokenCookieName, csrfToken, false)
	cookie.MaxAge = int(ttl.Seconds())
	http.SetCookie(w, cookie)
}

// ClearRefreshTokenCookie clears the refresh token cookie
func ClearRefreshTokenCookie(w http.ResponseWriter, config CookieConfig) {
	cookie := config.cookie(RefreshTokenCookieName, "", true)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

// ClearCSRFTokenCookie clears the CSRF token cookie
func ClearCSRFTokenCookie(w http.ResponseWriter, config CookieConfig) {
	cookie := config.cookie(CSRFTokenCookieName, "", false)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetCSRFTokenCookie retrieves the CSRF token from cookies
func GetCSRFTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CSRFTokenCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
