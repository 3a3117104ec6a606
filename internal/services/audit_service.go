package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/google/uuid"
)

const defaultAuditWriteTimeout = 5 * time.Second

// AuditLogRepository persists audit rows.
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, eventType string, limit int, offset int) ([]*models.AuditLog, error)
	CountByUserID(ctx context.Context, userID uuid.UUID, eventType string) (int64, error)
}

// AuditService persists audit rows off the request path. A slow or failing
// database never delays the caller; write errors are logged and dropped.
type AuditService struct {
	repo    AuditLogRepository
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:    repo,
		logger:  logger,
		timeout: defaultAuditWriteTimeout,
	}
}

// AuthEvent is one authentication decision to be recorded.
type AuthEvent struct {
	EventType     string
	UserID        string // Empty when no account matched
	Action        string
	Success       bool
	FailureReason string
	IPAddress     string
	UserAgent     string
	Metadata      models.AuditMetadata
}

// RecordAuthEvent stores an authentication event asynchronously.
func (s *AuditService) RecordAuthEvent(ctx context.Context, event AuthEvent) {
	s.record(ctx, &models.AuditLog{
		EventType:     event.EventType,
		ActorID:       parseUUID(event.UserID),
		TargetID:      parseUUID(event.UserID),
		Action:        event.Action,
		Success:       event.Success,
		FailureReason: optionalString(event.FailureReason),
		IPAddress:     optionalString(event.IPAddress),
		UserAgent:     optionalString(event.UserAgent),
		Metadata:      event.Metadata,
	})
}

// RecordAccountAction stores a change made by actorID to the account targetID.
func (s *AuditService) RecordAccountAction(ctx context.Context, eventType, actorID, targetID, action string, metadata models.AuditMetadata) {
	resourceType := models.AuditResourceTypeUser
	s.record(ctx, &models.AuditLog{
		EventType:    eventType,
		ActorID:      parseUUID(actorID),
		TargetID:     parseUUID(targetID),
		ResourceType: &resourceType,
		ResourceID:   optionalString(targetID),
		Action:       action,
		Success:      true,
		Metadata:     metadata,
	})
}

func (s *AuditService) record(ctx context.Context, log *models.AuditLog) {
	if s == nil || s.repo == nil {
		return
	}

	// The write outlives the request but not the timeout.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		if _, err := s.repo.Create(writeCtx, log); err != nil {
			s.logger.ErrorContext(writeCtx, "failed to persist audit log",
				slog.String("event_type", log.EventType),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight writes finish. Used on shutdown.
func (s *AuditService) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

// GetUserAuditTrail retrieves audit trail for a specific user
func (s *AuditService) GetUserAuditTrail(ctx context.Context, userID uuid.UUID, eventType string, limit int, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.GetByUserID(ctx, userID, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user audit trail: %w", err)
	}

	return logs, nil
}

// GetCountForUser returns the count of audit logs for a user
func (s *AuditService) GetCountForUser(ctx context.Context, userID uuid.UUID, eventType string) (int64, error) {
	count, err := s.repo.CountByUserID(ctx, userID, eventType)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

func parseUUID(id string) *uuid.UUID {
	if id == "" {
		return nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &parsed
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
