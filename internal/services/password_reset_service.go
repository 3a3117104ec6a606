package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/models"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

// PasswordResetRepository stores hashed single-use reset tokens.
type PasswordResetRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	GetLatestByUserID(ctx context.Context, userID string) (*models.PasswordResetToken, error)
	MarkAsUsed(ctx context.Context, id string) error
}

// PasswordUserStore is the account storage used by password reset.
type PasswordUserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
}

// PasswordResetService runs the forgot/reset password flow.
type PasswordResetService struct {
	resetRepo    PasswordResetRepository
	userRepo     PasswordUserStore
	hasher       pkgauth.Hasher
	emailService EmailService
	audit        *AuditService
	clock        clock.Clock
	logger       *slog.Logger
	tokenExpiry  time.Duration
	cooldown     time.Duration
}

func NewPasswordResetService(
	resetRepo PasswordResetRepository,
	userRepo PasswordUserStore,
	hasher pkgauth.Hasher,
	emailService EmailService,
	audit *AuditService,
	c clock.Clock,
	logger *slog.Logger,
	tokenExpiry time.Duration,
	cooldown time.Duration,
) *PasswordResetService {
	if c == nil {
		c = clock.System()
	}
	return &PasswordResetService{
		resetRepo:    resetRepo,
		userRepo:     userRepo,
		hasher:       hasher,
		emailService: emailService,
		audit:        audit,
		clock:        c,
		logger:       logger,
		tokenExpiry:  tokenExpiry,
		cooldown:     cooldown,
	}
}

// RequestReset emails a reset link if the address belongs to an account.
// The result is the same whether or not it does.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) {
	email = pkgauth.NormalizeEmail(email)

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to look up user for password reset", slog.Any("error", err))
		}
		return
	}

	now := s.clock.Now()

	latest, err := s.resetRepo.GetLatestByUserID(ctx, user.ID)
	if err == nil && now.Sub(latest.CreatedAt) < s.cooldown {
		s.logger.InfoContext(ctx, "password reset requested within cooldown", slog.String("user_id", user.ID))
		return
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to check for existing reset tokens", slog.Any("error", err))
		return
	}

	plainToken, err := pkgauth.GenerateSecureToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate reset token", slog.Any("error", err))
		return
	}

	expiresAt := now.Add(s.tokenExpiry)
	if _, err := s.resetRepo.Create(ctx, user.ID, pkgauth.HashToken(plainToken), expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to create reset token",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return
	}

	if err := s.emailService.SendPasswordResetEmail(ctx, user.Email, plainToken, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to send password reset email",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return
	}

	s.logger.InfoContext(ctx, "password reset email sent",
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)))
}

// ResetPassword consumes token and sets newPassword. The account's lock and
// failure counter are cleared and every existing session is invalidated.
// Returns ErrUnauthorized for an unknown, used or expired token and a
// *pkgauth.PasswordValidationError for a weak password.
func (s *PasswordResetService) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	if plainToken == "" {
		return models.ErrUnauthorized
	}

	token, err := s.resetRepo.GetByTokenHash(ctx, pkgauth.HashToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to retrieve reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	now := s.clock.Now()
	if token.IsUsed() || token.IsExpired(now) {
		s.logger.InfoContext(ctx, "stale password reset token presented", slog.String("token_id", token.ID))
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.resetRepo.MarkAsUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to consume reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.userRepo.UpdatePassword(ctx, token.UserID, hash, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to update password",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		return models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "password reset", slog.String("user_id", token.UserID))
	s.audit.RecordAccountAction(ctx, models.AuditEventTypePasswordReset, token.UserID, token.UserID, models.AuditActionUpdate, nil)
	return nil
}
