package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/ledgerguard/internal/events"
	"github.com/BradenHooton/ledgerguard/internal/models"
	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

// AdminUserRepository is the subset of UserRepository methods needed by AccountAdminService.
type AdminUserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.AccountStatus) (*models.User, error)
	Unlock(ctx context.Context, id string) (*models.User, error)
	SoftDelete(ctx context.Context, id string) error
}

// AccountAdminService lets administrators change account state.
type AccountAdminService struct {
	userRepo    AdminUserRepository
	publisher   events.Publisher
	audit       *AuditService
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

// NewAccountAdminService creates a new AccountAdminService.
func NewAccountAdminService(
	userRepo AdminUserRepository,
	publisher events.Publisher,
	audit *AuditService,
	auditLogger *pkglogger.AuditLogger,
	logger *slog.Logger,
) *AccountAdminService {
	return &AccountAdminService{
		userRepo:    userRepo,
		publisher:   publisher,
		audit:       audit,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// ListUsers returns a page of accounts.
func (s *AccountAdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.userRepo.List(ctx, limit, offset)
}

// GetUser returns one account.
func (s *AccountAdminService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// UpdateStatus sets the account's status. Admins cannot deactivate their own
// account. Sessions of a suspended or inactive account end on their next
// request.
func (s *AccountAdminService) UpdateStatus(ctx context.Context, actorID, targetID string, status models.AccountStatus) (*models.User, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrBadRequest, status)
	}
	if actorID == targetID && status != models.AccountStatusActive {
		return nil, fmt.Errorf("%w: cannot change your own account status", models.ErrForbidden)
	}

	before, err := s.userRepo.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.UpdateStatus(ctx, targetID, status)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update account status",
			slog.String("user_id", targetID),
			slog.Any("error", err))
		return nil, err
	}

	change := map[string]string{
		"from":     string(before.Status),
		"to":       string(status),
		"actor_id": actorID,
	}
	s.auditLogger.LogAccountAction(ctx, models.AuditEventTypeStatusChange, targetID, "", change)
	s.audit.RecordAccountAction(ctx, models.AuditEventTypeStatusChange, actorID, targetID, models.AuditActionUpdate,
		models.AuditMetadata{"from": string(before.Status), "to": string(status)})
	s.publish(ctx, events.Event{
		Type:      events.RoutingKeyAccountStatusChanged,
		AccountID: targetID,
		Data:      change,
	})

	return user, nil
}

// Unlock lifts a lockout and resets the failure counter.
func (s *AccountAdminService) Unlock(ctx context.Context, actorID, targetID string) (*models.User, error) {
	user, err := s.userRepo.Unlock(ctx, targetID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to unlock account",
				slog.String("user_id", targetID),
				slog.Any("error", err))
		}
		return nil, err
	}

	s.auditLogger.LogAccountAction(ctx, "account_unlocked", targetID, "", map[string]string{"actor_id": actorID})
	s.audit.RecordAccountAction(ctx, models.AuditEventTypeLockout, actorID, targetID, models.AuditActionUpdate,
		models.AuditMetadata{"unlocked": true})

	return user, nil
}

// DeleteUser soft-deletes an account. It disappears from every lookup, so
// its sessions fail on their next request.
func (s *AccountAdminService) DeleteUser(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return fmt.Errorf("%w: cannot delete your own account", models.ErrForbidden)
	}

	if err := s.userRepo.SoftDelete(ctx, targetID); err != nil {
		return err
	}

	s.auditLogger.LogAccountAction(ctx, "account_deleted", targetID, "", map[string]string{"actor_id": actorID})
	s.audit.RecordAccountAction(ctx, models.AuditEventTypeStatusChange, actorID, targetID, models.AuditActionUpdate,
		models.AuditMetadata{"deleted": true})
	return nil
}

func (s *AccountAdminService) publish(ctx context.Context, evt events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish account event",
			slog.String("type", evt.Type),
			slog.String("account_id", evt.AccountID),
			slog.Any("error", err))
	}
}
