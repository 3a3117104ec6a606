package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/models"
)

type MockUserRepo struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// usersByID serves GetByID from a fixed set of accounts.
func usersByID(users ...*models.User) *MockUserRepo {
	byID := make(map[string]*models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return &MockUserRepo{
		GetByIDFunc: func(_ context.Context, id string) (*models.User, error) {
			if u, ok := byID[id]; ok {
				return u, nil
			}
			return nil, models.ErrNotFound
		},
	}
}

type revokedToken struct {
	jti, userID, tokenType, reason string
	expiresAt                      time.Time
}

type MockRevocationStore struct {
	mu       sync.Mutex
	revoked  []revokedToken
	CheckErr error
}

func (m *MockRevocationStore) RevokeToken(_ context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, revokedToken{jti, userID, tokenType, reason, expiresAt})
	return nil
}

func (m *MockRevocationStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	if m.CheckErr != nil {
		return false, m.CheckErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.revoked {
		if r.jti == jti {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRevocationStore) Revoked() []revokedToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]revokedToken(nil), m.revoked...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeUser(id string) *models.User {
	return &models.User{
		ID:       id,
		Email:    id + "@example.com",
		Role:     "user",
		Status:   models.AccountStatusActive,
		TokenKey: "key-" + id,
	}
}
