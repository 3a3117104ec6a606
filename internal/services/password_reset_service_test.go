package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/ledgerguard/internal/models"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
)

// MockPasswordResetRepository keeps reset tokens in memory.
type MockPasswordResetRepository struct {
	clock  clock.Clock
	tokens []*models.PasswordResetToken
}

func (m *MockPasswordResetRepository) Create(_ context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	token := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: m.clock.Now(),
	}
	m.tokens = append(m.tokens, token)
	return token, nil
}

func (m *MockPasswordResetRepository) GetByTokenHash(_ context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash {
			return t, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockPasswordResetRepository) GetLatestByUserID(_ context.Context, userID string) (*models.PasswordResetToken, error) {
	for i := len(m.tokens) - 1; i >= 0; i-- {
		if m.tokens[i].UserID == userID {
			return m.tokens[i], nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockPasswordResetRepository) MarkAsUsed(_ context.Context, id string) error {
	for _, t := range m.tokens {
		if t.ID == id && t.UsedAt == nil {
			now := m.clock.Now()
			t.UsedAt = &now
			return nil
		}
	}
	return models.ErrNotFound
}

type resetFixture struct {
	service *PasswordResetService
	repo    *MockPasswordResetRepository
	users   *MockUserRepository
	mailer  *MockEmailService
	clock   *clock.Fixed
	user    *models.User
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := &resetFixture{
		users:  &MockUserRepository{},
		mailer: &MockEmailService{},
		clock:  clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		user:   NewTestUser("owner@example.com"),
	}
	f.repo = &MockPasswordResetRepository{clock: f.clock}

	f.users.GetByEmailFunc = func(_ context.Context, email string) (*models.User, error) {
		if email == f.user.Email {
			return f.user, nil
		}
		return nil, models.ErrNotFound
	}
	f.users.UpdatePasswordFunc = func(_ context.Context, id, hash string, changedAt time.Time) error {
		if id != f.user.ID {
			return models.ErrNotFound
		}
		f.user.PasswordHash = hash
		f.user.PasswordChangedAt = &changedAt
		f.user.FailedLoginAttempts = 0
		f.user.LockedUntil = nil
		return nil
	}

	audit := NewAuditService(&MockAuditLogRepository{}, discardLogger())
	t.Cleanup(audit.Wait)

	f.service = NewPasswordResetService(f.repo, f.users, plainHasher{}, f.mailer, audit, f.clock, discardLogger(),
		time.Hour, 2*time.Minute)
	return f
}

func (f *resetFixture) requestToken(t *testing.T) string {
	t.Helper()
	f.service.RequestReset(context.Background(), f.user.Email)
	sent := f.mailer.Sent()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].token
}

func TestPasswordReset_RequestSendsLink(t *testing.T) {
	f := newResetFixture(t)

	f.service.RequestReset(context.Background(), " Owner@Example.com ")

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "reset", sent[0].kind)
	assert.Equal(t, f.user.Email, sent[0].to)
	require.Len(t, f.repo.tokens, 1)
	assert.Equal(t, pkgauth.HashToken(sent[0].token), f.repo.tokens[0].TokenHash)
}

func TestPasswordReset_RequestUnknownAddressSendsNothing(t *testing.T) {
	f := newResetFixture(t)
	f.service.RequestReset(context.Background(), "nobody@example.com")
	assert.Empty(t, f.mailer.Sent())
	assert.Empty(t, f.repo.tokens)
}

func TestPasswordReset_RequestCooldown(t *testing.T) {
	f := newResetFixture(t)

	f.service.RequestReset(context.Background(), f.user.Email)
	f.clock.Advance(time.Minute)
	f.service.RequestReset(context.Background(), f.user.Email)
	assert.Len(t, f.mailer.Sent(), 1)

	f.clock.Advance(time.Minute)
	f.service.RequestReset(context.Background(), f.user.Email)
	assert.Len(t, f.mailer.Sent(), 2)
}

func TestPasswordReset_ResetClearsLock(t *testing.T) {
	f := newResetFixture(t)
	lockedUntil := f.clock.Now().Add(10 * time.Minute)
	f.user.LockedUntil = &lockedUntil
	f.user.FailedLoginAttempts = 5

	token := f.requestToken(t)
	require.NoError(t, f.service.ResetPassword(context.Background(), token, "Brand-New-Secret-7"))

	assert.Equal(t, "plain:Brand-New-Secret-7", f.user.PasswordHash)
	assert.Nil(t, f.user.LockedUntil)
	assert.Zero(t, f.user.FailedLoginAttempts)
	require.NotNil(t, f.user.PasswordChangedAt)
	assert.True(t, f.user.PasswordChangedAt.Equal(f.clock.Now()))

	err := f.service.ResetPassword(context.Background(), token, "Another-Secret-8")
	assert.ErrorIs(t, err, models.ErrUnauthorized, "tokens are single use")
}

func TestPasswordReset_Rejections(t *testing.T) {
	t.Run("empty token", func(t *testing.T) {
		f := newResetFixture(t)
		assert.ErrorIs(t, f.service.ResetPassword(context.Background(), "", "Brand-New-Secret-7"), models.ErrUnauthorized)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newResetFixture(t)
		assert.ErrorIs(t, f.service.ResetPassword(context.Background(), "nope", "Brand-New-Secret-7"), models.ErrUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newResetFixture(t)
		token := f.requestToken(t)
		f.clock.Advance(time.Hour)
		assert.ErrorIs(t, f.service.ResetPassword(context.Background(), token, "Brand-New-Secret-7"), models.ErrUnauthorized)
	})

	t.Run("weak password keeps token usable", func(t *testing.T) {
		f := newResetFixture(t)
		token := f.requestToken(t)

		err := f.service.ResetPassword(context.Background(), token, "weak")
		var pwErr *pkgauth.PasswordValidationError
		require.ErrorAs(t, err, &pwErr)
		assert.Nil(t, f.repo.tokens[0].UsedAt)

		assert.NoError(t, f.service.ResetPassword(context.Background(), token, "Brand-New-Secret-7"))
	})
}
