package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/events"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/internal/repositories"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockUserRepository implements the account store interfaces for testing
type MockUserRepository struct {
	GetByIDFunc           func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	CreateFunc            func(ctx context.Context, user *models.User) (*models.User, error)
	RotateTokenKeyFunc    func(ctx context.Context, id string) error
	MarkEmailVerifiedFunc func(ctx context.Context, id string, at time.Time) error
	UpdatePasswordFunc    func(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	ListFunc              func(ctx context.Context, limit, offset int) ([]*models.User, error)
	UpdateStatusFunc      func(ctx context.Context, id string, status models.AccountStatus) (*models.User, error)
	UnlockFunc            func(ctx context.Context, id string) (*models.User, error)
	SoftDeleteFunc        func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) RotateTokenKey(ctx context.Context, id string) error {
	if m.RotateTokenKeyFunc != nil {
		return m.RotateTokenKeyFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id, at)
	}
	return nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash, changedAt)
	}
	return nil
}

func (m *MockUserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) UpdateStatus(ctx context.Context, id string, status models.AccountStatus) (*models.User, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Unlock(ctx context.Context, id string) (*models.User, error) {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) SoftDelete(ctx context.Context, id string) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, id)
	}
	return nil
}

// accountStore is an in-memory LoginAccountStore with the same counter
// semantics as the SQL implementation.
type accountStore struct {
	mu           sync.Mutex
	byEmail      map[string]*models.User
	lookups      int
	lookupErr    error
	incrementErr error
}

func newAccountStore(users ...*models.User) *accountStore {
	s := &accountStore{byEmail: make(map[string]*models.User)}
	for _, u := range users {
		s.byEmail[u.Email] = u
	}
	return s
}

func (s *accountStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	u, ok := s.byEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *accountStore) IncrementFailedLogins(_ context.Context, id string, threshold int, now, lockUntil time.Time) (*repositories.FailedLoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrementErr != nil {
		return nil, s.incrementErr
	}
	u := s.byID(id)
	if u == nil {
		return nil, models.ErrNotFound
	}

	if u.LockedUntil != nil && !u.LockedUntil.After(now) {
		u.FailedLoginAttempts = 1
		u.LockedUntil = nil
	} else {
		u.FailedLoginAttempts++
	}

	result := &repositories.FailedLoginResult{Attempts: u.FailedLoginAttempts}
	switch {
	case u.LockedUntil != nil:
	case u.FailedLoginAttempts >= threshold:
		until := lockUntil
		u.LockedUntil = &until
		result.JustLocked = true
	}
	result.LockedUntil = u.LockedUntil
	return result, nil
}

func (s *accountStore) RecordSuccessfulLogin(_ context.Context, id, ipAddress string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byID(id)
	if u == nil {
		return models.ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &at
	u.LastLoginIP = &ipAddress
	return nil
}

func (s *accountStore) byID(id string) *models.User {
	for _, u := range s.byEmail {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// get returns the stored account for assertions.
func (s *accountStore) get(email string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.byEmail[email]
}

func (s *accountStore) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// plainHasher avoids bcrypt cost in tests.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (plainHasher) Compare(hash, password string) error {
	if hash != "plain:"+password {
		return pkgauth.ErrPasswordMismatch
	}
	return nil
}

// MockSessionIssuer issues opaque tokens and resolves them back to claims.
type MockSessionIssuer struct {
	mu       sync.Mutex
	issued   []auth.IssueOptions
	claims   map[string]*models.TokenClaims
	IssueErr error
}

func newMockSessionIssuer() *MockSessionIssuer {
	return &MockSessionIssuer{claims: make(map[string]*models.TokenClaims)}
}

func (m *MockSessionIssuer) IssueSession(user *models.User, opts auth.IssueOptions) (*models.Session, error) {
	if m.IssueErr != nil {
		return nil, m.IssueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, opts)

	access := m.add(user, models.TokenTypeAccess, opts)
	refresh := m.add(user, models.TokenTypeRefresh, opts)
	return &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Remember:     opts.Remember,
		User:         user,
	}, nil
}

func (m *MockSessionIssuer) add(user *models.User, tokenType string, opts auth.IssueOptions) string {
	jti := uuid.NewString()
	token := tokenType + ":" + jti
	m.claims[token] = &models.TokenClaims{
		Type:     tokenType,
		UserID:   user.ID,
		Email:    user.Email,
		Remember: opts.Remember,
		Device:   opts.Device,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	return token
}

// Register makes a token resolvable without issuing it through a login.
func (m *MockSessionIssuer) Register(token string, claims *models.TokenClaims) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[token] = claims
}

func (m *MockSessionIssuer) ValidateToken(_ context.Context, token string) (*models.TokenClaims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claims, ok := m.claims[token]
	if !ok {
		return nil, models.ErrUnauthorized
	}
	return claims, nil
}

func (m *MockSessionIssuer) issueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issued)
}

type revocation struct {
	jti, userID, tokenType, reason string
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	mu       sync.Mutex
	revoked  []revocation
	CheckErr error
}

func (m *MockTokenRevocationRepository) RevokeToken(_ context.Context, jti, userID, tokenType string, _ time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, revocation{jti, userID, tokenType, reason})
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
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

func (m *MockTokenRevocationRepository) Revoked() []revocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]revocation(nil), m.revoked...)
}

type sentEmail struct {
	kind, to, token string
	at              time.Time
}

// MockEmailService records every message. Safe for concurrent use.
type MockEmailService struct {
	mu   sync.Mutex
	sent []sentEmail
	Err  error
}

func (m *MockEmailService) SendVerificationEmail(_ context.Context, email, token string, expiresAt time.Time) error {
	return m.add(sentEmail{"verification", email, token, expiresAt})
}

func (m *MockEmailService) SendPasswordResetEmail(_ context.Context, email, token string, expiresAt time.Time) error {
	return m.add(sentEmail{"reset", email, token, expiresAt})
}

func (m *MockEmailService) SendLockoutNotice(_ context.Context, email string, lockedUntil time.Time) error {
	return m.add(sentEmail{"lockout", email, "", lockedUntil})
}

func (m *MockEmailService) add(e sentEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *MockEmailService) Sent() []sentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEmail(nil), m.sent...)
}

// MockPublisher collects published events on a buffered channel.
type MockPublisher struct {
	Events chan events.Event
	Err    error
}

func newMockPublisher() *MockPublisher {
	return &MockPublisher{Events: make(chan events.Event, 16)}
}

func (m *MockPublisher) Publish(_ context.Context, evt events.Event) error {
	if m.Err != nil {
		return m.Err
	}
	m.Events <- evt
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// MockAuditLogRepository records created rows. Safe for concurrent use.
type MockAuditLogRepository struct {
	mu        sync.Mutex
	logs      []*models.AuditLog
	CreateErr error
	Block     chan struct{}
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return log, nil
}

func (m *MockAuditLogRepository) GetByUserID(_ context.Context, userID uuid.UUID, eventType string, limit int, offset int) ([]*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditLog
	for _, l := range m.logs {
		if l.TargetID != nil && *l.TargetID == userID && (eventType == "" || l.EventType == eventType) {
			out = append(out, l)
		}
	}
	if offset >= len(out) {
		return []*models.AuditLog{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockAuditLogRepository) CountByUserID(ctx context.Context, userID uuid.UUID, eventType string) (int64, error) {
	logs, err := m.GetByUserID(ctx, userID, eventType, 1<<30, 0)
	return int64(len(logs)), err
}

func (m *MockAuditLogRepository) Logs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.logs...)
}

// countingDelayer records padded failures without sleeping.
type countingDelayer struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDelayer) WaitFrom(context.Context, time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
}

func (d *countingDelayer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// NewTestUser returns an active account whose password is "Correct-Horse-9".
func NewTestUser(email string) *models.User {
	return &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "plain:" + testPassword,
		Name:         strings.Split(email, "@")[0],
		Role:         "user",
		Status:       models.AccountStatusActive,
		TokenKey:     "key",
	}
}

const testPassword = "Correct-Horse-9"

var errDatabaseDown = errors.New("database unavailable")
