package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/metrics"
	"github.com/BradenHooton/ledgerguard/internal/models"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

// UserRepository is the account storage used outside the login path.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	RotateTokenKey(ctx context.Context, id string) error
}

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// VerificationSender issues verification emails for new accounts.
type VerificationSender interface {
	SendVerificationEmail(ctx context.Context, userID, email string) error
}

// AuthService handles registration and the session lifecycle after login.
type AuthService struct {
	repo         UserRepository
	revokeRepo   TokenRevocationRepository
	tokens       SessionIssuer
	hasher       pkgauth.Hasher
	verification VerificationSender
	audit        *AuditService
	auditLogger  *pkglogger.AuditLogger
	clock        clock.Clock
	logger       *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo UserRepository,
	revokeRepo TokenRevocationRepository,
	tokens SessionIssuer,
	hasher pkgauth.Hasher,
	verification VerificationSender,
	audit *AuditService,
	auditLogger *pkglogger.AuditLogger,
	c clock.Clock,
	logger *slog.Logger,
) *AuthService {
	if c == nil {
		c = clock.System()
	}
	return &AuthService{
		repo:         repo,
		revokeRepo:   revokeRepo,
		tokens:       tokens,
		hasher:       hasher,
		verification: verification,
		audit:        audit,
		auditLogger:  auditLogger,
		clock:        c,
		logger:       logger,
	}
}

// Register creates an active, unverified account and sends a verification
// email. An address that is already registered is not an error: the caller
// responds identically either way.
func (s *AuthService) Register(ctx context.Context, email, password, name, ipAddress string) error {
	email = pkgauth.NormalizeEmail(email)
	name = strings.TrimSpace(name)

	if email == "" {
		return fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}
	if name == "" {
		return fmt.Errorf("%w: name is required", models.ErrBadRequest)
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return err
	}

	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.InfoContext(ctx, "registration for existing address ignored",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to check if user exists", slog.Any("error", err))
		return models.ErrInternalServer
	}

	hashedPassword, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate token key", slog.Any("error", err))
		return models.ErrInternalServer
	}

	now := s.clock.Now()
	created, err := s.repo.Create(ctx, &models.User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hashedPassword,
		Name:              name,
		Role:              "user",
		Status:            models.AccountStatusActive,
		TokenKey:          tokenKey,
		PasswordChangedAt: &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a race with a concurrent registration for the same address.
			return nil
		}
		s.logger.ErrorContext(ctx, "failed to create user", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", created.ID))
	s.auditLogger.LogAccountAction(ctx, models.AuditEventTypeRegister, created.ID, ipAddress, nil)
	s.audit.RecordAuthEvent(ctx, AuthEvent{
		EventType: models.AuditEventTypeRegister,
		UserID:    created.ID,
		Action:    models.AuditActionCreate,
		Success:   true,
		IPAddress: ipAddress,
	})

	if s.verification != nil {
		if err := s.verification.SendVerificationEmail(ctx, created.ID, created.Email); err != nil {
			// The account exists; the user can ask for another email.
			s.logger.ErrorContext(ctx, "failed to send verification email after registration",
				slog.String("user_id", created.ID),
				slog.Any("error", err))
		}
	}

	return nil
}

// Refresh exchanges a refresh token for a new session. The account is
// re-checked, so a lock or suspension also ends refreshes. The presented
// refresh token is revoked (rotation).
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		metrics.RecordTokenRefresh("invalid")
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tokens.ValidateToken(ctx, refreshToken)
	if err != nil || claims.Type != models.TokenTypeRefresh {
		s.logger.InfoContext(ctx, "refresh token rejected", slog.Any("error", err))
		metrics.RecordTokenRefresh("invalid")
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to check refresh token revocation", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		s.logger.WarnContext(ctx, "revoked refresh token presented", slog.String("user_id", claims.UserID))
		metrics.RecordTokenRefresh("revoked")
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			metrics.RecordTokenRefresh("invalid")
			return nil, models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to get user for token refresh",
			slog.String("user_id", claims.UserID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if accessErr := user.AccessError(s.clock.Now()); accessErr != nil {
		s.logger.InfoContext(ctx, "token refresh blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", string(user.Status)))
		s.revoke(ctx, claims, "account_blocked")
		metrics.RecordTokenRefresh("blocked")
		return nil, accessErr
	}

	if user.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second)) {
		s.logger.InfoContext(ctx, "token refresh blocked: issued before password change",
			slog.String("user_id", user.ID))
		metrics.RecordTokenRefresh("stale")
		return nil, models.ErrUnauthorized
	}

	s.revoke(ctx, claims, "rotated")

	session, err := s.tokens.IssueSession(user, auth.IssueOptions{
		Remember: claims.Remember,
		Device:   claims.Device,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	metrics.RecordTokenRefresh(OutcomeSuccess)
	return session, nil
}

// Logout revokes the access token in claims and, if it belongs to the same
// user, the refresh token.
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if claims == nil {
		return models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke token", slog.String("jti", claims.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if refreshToken != "" {
		if refreshClaims, err := s.tokens.ValidateToken(ctx, refreshToken); err == nil && refreshClaims.UserID == claims.UserID {
			s.revoke(ctx, refreshClaims, "logout")
		}
	}

	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", claims.UserID))
	s.audit.RecordAuthEvent(ctx, AuthEvent{
		EventType: models.AuditEventTypeLogout,
		UserID:    claims.UserID,
		Action:    models.AuditActionAccess,
		Success:   true,
	})
	return nil
}

// LogoutAll ends every session of the user by rotating the signing key.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.repo.RotateTokenKey(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to rotate token key", slog.String("user_id", userID), slog.Any("error", err))
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		return models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "user logged out from all devices", slog.String("user_id", userID))
	s.audit.RecordAuthEvent(ctx, AuthEvent{
		EventType: models.AuditEventTypeLogout,
		UserID:    userID,
		Action:    models.AuditActionAccess,
		Success:   true,
		Metadata:  models.AuditMetadata{"scope": "all"},
	})
	return nil
}

func (s *AuthService) revoke(ctx context.Context, claims *models.TokenClaims, reason string) {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return
	}
	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke token", slog.String("jti", claims.ID), slog.Any("error", err))
	}
}
