package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/internal/services"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

// LoginGuard evaluates sign-in attempts.
type LoginGuard interface {
	Attempt(ctx context.Context, in services.LoginAttempt) (*models.Session, error)
}

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name, ipAddress string) error
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
	Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) error
}

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	VerifyEmail(ctx context.Context, plainToken string) (string, error)
	ResendVerification(ctx context.Context, email string) error
	GetStatus(ctx context.Context, userID string) (bool, error)
}

// PasswordResetServiceInterface defines the forgot/reset password flow
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email string)
	ResetPassword(ctx context.Context, plainToken, newPassword string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	guard        LoginGuard
	service      AuthServiceInterface
	verification EmailVerificationServiceInterface
	resets       PasswordResetServiceInterface
	csrf         *auth.CSRFTokenManager
	cookies      auth.CookieConfig
	ipConfig     *pkghttp.IPConfig
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	guard LoginGuard,
	service AuthServiceInterface,
	verification EmailVerificationServiceInterface,
	resets PasswordResetServiceInterface,
	csrf *auth.CSRFTokenManager,
	cookies auth.CookieConfig,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		guard:        guard,
		service:      service,
		verification: verification,
		resets:       resets,
		csrf:         csrf,
		cookies:      cookies,
		ipConfig:     ipConfig,
		logger:       logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Remember   bool   `json:"remember"`
	DeviceName string `json:"device_name" validate:"omitempty,max=100"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=255"`
}

// RefreshTokenRequest represents the request body for token refresh. The
// token may come from the refresh cookie instead.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// EmailRequest carries just an address, for resend and forgot-password.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for setting a new password
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// VerificationStatusResponse represents the response for verification status
type VerificationStatusResponse struct {
	EmailVerified        bool `json:"email_verified"`
	VerificationRequired bool `json:"verification_required"`
}

// SessionResponse is returned by login and refresh.
type SessionResponse struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"`
	ExpiresAt        time.Time     `json:"expires_at"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
	Remember         bool          `json:"remember"`
	User             *UserResponse `json:"user,omitempty"`
}

// MessageResponse is a body with a single human-readable message.
type MessageResponse struct {
	Message string `json:"message"`
}

const (
	msgRegistrationReceived = "Registration received. If the email is not already registered, you will receive a confirmation email."
	msgResendAccepted       = "If an account exists with this email, a verification email will be sent."
	msgResetAccepted        = "If an account exists with this email, a password reset link will be sent."
)

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.guard.Attempt(r.Context(), services.LoginAttempt{
		Email:       req.Email,
		Password:    req.Password,
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:   r.UserAgent(),
		Remember:    req.Remember,
		DeviceName:  req.DeviceName,
		PriorTokens: presentedTokens(r),
	})
	if err != nil {
		h.writeAccessError(w, r, err)
		return
	}

	h.writeSession(w, r, session)
}

// Register handles user registration. The response is the same whether or
// not the address is already registered.
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 202 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.service.Register(r.Context(), req.Email, req.Password, req.Name, pkghttp.ExtractClientIP(r, h.ipConfig))
	if err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", "Password does not meet requirements", pwErr.Error())
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, err.Error())
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: msgRegistrationReceived})
}

// RefreshToken exchanges a refresh token for a new session
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest false "Refresh token request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken, _ = auth.GetRefreshTokenCookie(r)
	}

	session, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		auth.ClearRefreshTokenCookie(w, h.cookies)
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		h.writeAccessError(w, r, err)
		return
	}

	h.writeSession(w, r, session)
}

// Logout handles user logout by revoking the access and refresh tokens
// @Summary User logout
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	refreshToken, _ := auth.GetRefreshTokenCookie(r)
	if err := h.service.Logout(r.Context(), claims, refreshToken); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.clearSessionCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles logout from all devices
// @Summary Logout from all devices
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.clearSessionCookies(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail handles email verification with a token
// @Summary Verify email address
// @Accept json
// @Param request body VerifyEmailRequest true "Verify email request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.verification.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired verification token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully. Please log in."})
}

// ResendVerification handles resending of verification email
// @Summary Resend verification email
// @Accept json
// @Param request body EmailRequest true "Resend verification request"
// @Success 202 {object} MessageResponse
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	_ = h.verification.ResendVerification(r.Context(), req.Email)
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: msgResendAccepted})
}

// VerificationStatus handles getting the email verification status for the current user
// @Summary Get email verification status
// @Security BearerAuth
// @Produce json
// @Success 200 {object} VerificationStatusResponse
// @Router /auth/verification-status [get]
func (h *AuthHandler) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	verified, err := h.verification.GetStatus(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerificationStatusResponse{
		EmailVerified:        verified,
		VerificationRequired: !verified,
	})
}

// ForgotPassword starts a password reset
// @Summary Request a password reset email
// @Accept json
// @Param request body EmailRequest true "Forgot password request"
// @Success 202 {object} MessageResponse
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	h.resets.RequestReset(r.Context(), req.Email)
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: msgResetAccepted})
}

// ResetPassword sets a new password from a reset token
// @Summary Reset password
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.resets.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		var pwErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pwErr):
			pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", "Password does not meet requirements", pwErr.Error())
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password updated. Please log in."})
}

// CSRFToken issues an anonymous CSRF token cookie
// @Summary Get a CSRF token
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/csrf [get]
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	old, _ := auth.GetCSRFTokenCookie(r)
	token, err := h.csrf.Regenerate(old, "")
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.SetCSRFTokenCookie(w, token, h.csrf.TTL(), h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// writeAccessError maps the login taxonomy onto HTTP. Anything outside it is
// an infrastructure failure and becomes a 500.
func (h *AuthHandler) writeAccessError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *models.RateLimitedError
	var locked *models.AccountLockedError

	switch {
	case errors.As(err, &limited):
		pkghttp.WriteTooManyRequests(w, "Too many login attempts. Please try again later.", limited.SecondsRemaining)
	case errors.As(err, &locked):
		pkghttp.WriteErrorResponse(w, http.StatusLocked, pkghttp.ErrorResponse{
			Error:            "account_locked",
			Message:          "Your account is temporarily locked due to too many failed login attempts.",
			MinutesRemaining: locked.MinutesRemaining,
		})
	case errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteErrorResponse(w, http.StatusForbidden, pkghttp.ErrorResponse{
			Error:    "account_suspended",
			Message:  "Your account has been suspended.",
			Redirect: auth.RedirectSuspended,
		})
	case errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteErrorResponse(w, http.StatusForbidden, pkghttp.ErrorResponse{
			Error:    "account_inactive",
			Message:  "Your account is inactive.",
			Redirect: auth.RedirectReactivate,
		})
	case errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteErrorResponse(w, http.StatusConflict, pkghttp.ErrorResponse{
			Error:    "email_not_verified",
			Message:  "Please verify your email address before signing in.",
			Redirect: auth.RedirectVerify,
		})
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password.")
	default:
		h.logger.ErrorContext(r.Context(), "login failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// writeSession sets the refresh and CSRF cookies and writes the token body.
func (h *AuthHandler) writeSession(w http.ResponseWriter, r *http.Request, session *models.Session) {
	auth.SetRefreshTokenCookie(w, session.RefreshToken, session.RefreshExpiresAt, session.Remember, h.cookies)

	if h.csrf != nil {
		old, _ := auth.GetCSRFTokenCookie(r)
		if token, err := h.csrf.Regenerate(old, session.User.ID); err == nil {
			auth.SetCSRFTokenCookie(w, token, h.csrf.TTL(), h.cookies)
		} else {
			h.logger.ErrorContext(r.Context(), "failed to issue csrf token", slog.Any("error", err))
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{
		AccessToken:      session.AccessToken,
		RefreshToken:     session.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        session.AccessExpiresAt,
		RefreshExpiresAt: session.RefreshExpiresAt,
		Remember:         session.Remember,
		User:             userModelToResponse(session.User),
	})
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	auth.ClearRefreshTokenCookie(w, h.cookies)
	if h.csrf != nil {
		if old, err := auth.GetCSRFTokenCookie(r); err == nil {
			h.csrf.RevokeToken(old)
		}
	}
	auth.ClearCSRFTokenCookie(w, h.cookies)
}

// presentedTokens collects whatever session tokens came with the request so
// that a fresh login can retire them.
func presentedTokens(r *http.Request) []string {
	var tokens []string
	if bearer, ok := auth.BearerToken(r); ok {
		tokens = append(tokens, bearer)
	}
	if refresh, err := auth.GetRefreshTokenCookie(r); err == nil && refresh != "" {
		tokens = append(tokens, refresh)
	}
	return tokens
}
