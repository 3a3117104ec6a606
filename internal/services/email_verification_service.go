package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/models"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

// EmailVerificationRepository defines the interface for email verification token operations
type EmailVerificationRepository interface {
	Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkAsUsed(ctx context.Context, id string) error
	GetLatestByUserID(ctx context.Context, userID string) (*models.EmailVerificationToken, error)
	DeleteByUserID(ctx context.Context, userID string) error
}

// VerificationUserStore is the account storage used by email verification.
type VerificationUserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}

// EmailVerificationService handles email verification business logic
type EmailVerificationService struct {
	emailVerificationRepo EmailVerificationRepository
	userRepo              VerificationUserStore
	emailService          EmailService
	audit                 *AuditService
	clock                 clock.Clock
	logger                *slog.Logger
	tokenExpiry           time.Duration
	resendCooldown        time.Duration
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(
	emailVerificationRepo EmailVerificationRepository,
	userRepo VerificationUserStore,
	emailService EmailService,
	audit *AuditService,
	c clock.Clock,
	logger *slog.Logger,
	tokenExpiry time.Duration,
	resendCooldown time.Duration,
) *EmailVerificationService {
	if c == nil {
		c = clock.System()
	}
	return &EmailVerificationService{
		emailVerificationRepo: emailVerificationRepo,
		userRepo:              userRepo,
		emailService:          emailService,
		audit:                 audit,
		clock:                 c,
		logger:                logger,
		tokenExpiry:           tokenExpiry,
		resendCooldown:        resendCooldown,
	}
}

// SendVerificationEmail generates a token and sends a verification email.
// Only the token's hash is stored.
func (s *EmailVerificationService) SendVerificationEmail(ctx context.Context, userID, email string) error {
	plainToken, err := pkgauth.GenerateSecureToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate verification token", slog.Any("error", err))
		return err
	}

	expiresAt := s.clock.Now().Add(s.tokenExpiry)

	if _, err := s.emailVerificationRepo.Create(ctx, userID, pkgauth.HashToken(plainToken), email, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to create email verification token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("failed to create token: %w", err)
	}

	if err := s.emailService.SendVerificationEmail(ctx, email, plainToken, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to send verification email",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.InfoContext(ctx, "verification email sent",
		slog.String("user_id", userID),
		slog.String("email", pkglogger.SanitizedEmail(email)))

	return nil
}

// VerifyEmail consumes a token and marks the user's email as verified.
// Unknown, used and expired tokens are all ErrUnauthorized.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if plainToken == "" {
		return "", models.ErrUnauthorized
	}

	token, err := s.emailVerificationRepo.GetByTokenHash(ctx, pkgauth.HashToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.InfoContext(ctx, "verification token not found")
			return "", models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to retrieve verification token", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	now := s.clock.Now()

	if token.IsUsed() {
		s.logger.WarnContext(ctx, "attempt to reuse verification token", slog.String("token_id", token.ID))
		return "", models.ErrUnauthorized
	}
	if token.IsExpired(now) {
		s.logger.InfoContext(ctx, "verification token expired",
			slog.String("token_id", token.ID),
			slog.Time("expires_at", token.ExpiresAt))
		return "", models.ErrUnauthorized
	}

	if err := s.emailVerificationRepo.MarkAsUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Consumed concurrently.
			return "", models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to mark token as used",
			slog.String("token_id", token.ID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if err := s.userRepo.MarkEmailVerified(ctx, token.UserID, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark email verified",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "email verified", slog.String("user_id", token.UserID))
	s.audit.RecordAccountAction(ctx, models.AuditEventTypeEmailVerified, token.UserID, token.UserID, models.AuditActionUpdate, nil)

	return token.UserID, nil
}

// ResendVerification sends a fresh link unless one was sent within the
// cooldown. It reports success whether or not the address exists.
func (s *EmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	email = pkgauth.NormalizeEmail(email)

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to look up user for resend", slog.Any("error", err))
		}
		return nil
	}
	if user.EmailVerified() {
		return nil
	}

	latest, err := s.emailVerificationRepo.GetLatestByUserID(ctx, user.ID)
	switch {
	case err == nil:
		if since := s.clock.Now().Sub(latest.CreatedAt); since < s.resendCooldown {
			s.logger.InfoContext(ctx, "verification resend within cooldown",
				slog.String("user_id", user.ID),
				slog.Duration("since_last", since))
			return nil
		}
	case !errors.Is(err, models.ErrNotFound):
		s.logger.ErrorContext(ctx, "failed to check for existing tokens",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil
	}

	if err := s.emailVerificationRepo.DeleteByUserID(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to delete old verification tokens",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	// Failures are logged inside; the caller's response must not change.
	_ = s.SendVerificationEmail(ctx, user.ID, user.Email)
	return nil
}

// GetStatus returns the verification status for a user
func (s *EmailVerificationService) GetStatus(ctx context.Context, userID string) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.EmailVerified(), nil
}
