package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/ledgerguard/internal/models"
)

func TestAuditService_RecordAuthEventIsAsync(t *testing.T) {
	repo := &MockAuditLogRepository{Block: make(chan struct{})}
	service := NewAuditService(repo, discardLogger())
	userID := uuid.NewString()

	done := make(chan struct{})
	go func() {
		service.RecordAuthEvent(context.Background(), AuthEvent{
			EventType:     models.AuditEventTypeLogin,
			UserID:        userID,
			Action:        models.AuditActionAccess,
			FailureReason: "invalid_credentials",
			IPAddress:     "203.0.113.7",
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordAuthEvent blocked on the repository")
	}

	close(repo.Block)
	service.Wait()

	logs := repo.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, userID, logs[0].ActorID.String())
	assert.Equal(t, userID, logs[0].TargetID.String())
	require.NotNil(t, logs[0].FailureReason)
	assert.Equal(t, "invalid_credentials", *logs[0].FailureReason)
	assert.Nil(t, logs[0].UserAgent)
}

func TestAuditService_WriteOutlivesRequestContext(t *testing.T) {
	repo := &MockAuditLogRepository{}
	service := NewAuditService(repo, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	service.RecordAccountAction(ctx, models.AuditEventTypeStatusChange, uuid.NewString(), uuid.NewString(), models.AuditActionUpdate, nil)
	cancel()
	service.Wait()

	assert.Len(t, repo.Logs(), 1)
}

func TestAuditService_WriteTimesOut(t *testing.T) {
	repo := &MockAuditLogRepository{Block: make(chan struct{})}
	service := NewAuditService(repo, discardLogger())
	service.timeout = 20 * time.Millisecond

	service.RecordAuthEvent(context.Background(), AuthEvent{EventType: models.AuditEventTypeLogin})
	service.Wait()

	assert.Empty(t, repo.Logs())
}

func TestAuditService_FailuresAreDropped(t *testing.T) {
	repo := &MockAuditLogRepository{CreateErr: errDatabaseDown}
	service := NewAuditService(repo, discardLogger())

	assert.NotPanics(t, func() {
		service.RecordAuthEvent(context.Background(), AuthEvent{EventType: models.AuditEventTypeLogin})
		service.Wait()
	})
}

func TestAuditService_NilIsNoop(t *testing.T) {
	var service *AuditService
	assert.NotPanics(t, func() {
		service.RecordAuthEvent(context.Background(), AuthEvent{EventType: models.AuditEventTypeLogin})
		service.Wait()
	})
}

func TestAuditService_UnparseableIDsAreOmitted(t *testing.T) {
	repo := &MockAuditLogRepository{}
	service := NewAuditService(repo, discardLogger())

	service.RecordAuthEvent(context.Background(), AuthEvent{EventType: models.AuditEventTypeLogin, UserID: "not-a-uuid"})
	service.Wait()

	logs := repo.Logs()
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].ActorID)
	assert.Nil(t, logs[0].TargetID)
}

func TestAuditService_GetUserAuditTrail(t *testing.T) {
	repo := &MockAuditLogRepository{}
	service := NewAuditService(repo, discardLogger())
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		service.RecordAuthEvent(context.Background(), AuthEvent{EventType: models.AuditEventTypeLogin, UserID: userID.String()})
	}
	service.RecordAuthEvent(context.Background(), AuthEvent{EventType: models.AuditEventTypeLogout, UserID: userID.String()})
	service.RecordAuthEvent(context.Background(), AuthEvent{EventType: models.AuditEventTypeLogin, UserID: uuid.NewString()})
	service.Wait()

	logs, err := service.GetUserAuditTrail(context.Background(), userID, models.AuditEventTypeLogin, 0, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	count, err := service.GetCountForUser(context.Background(), userID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}
