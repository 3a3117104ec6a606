package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/internal/services"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID, Type: models.TokenTypeAccess}
	claims.ID = uuid.NewString()
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithAccountContext adds the account the status middleware would load
func WithAccountContext(req *http.Request, user *models.User) *http.Request {
	req = WithAuthContext(req, user.ID)
	ctx := context.WithValue(req.Context(), auth.AccountContextKey, user)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func testUser() *models.User {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.User{
		ID:        uuid.NewString(),
		Email:     "owner@example.com",
		Name:      "Owner",
		Role:      "user",
		Status:    models.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MockLoginGuard implements LoginGuard for testing
type MockLoginGuard struct {
	AttemptFunc func(ctx context.Context, in services.LoginAttempt) (*models.Session, error)
	last        services.LoginAttempt
}

func (m *MockLoginGuard) Attempt(ctx context.Context, in services.LoginAttempt) (*models.Session, error) {
	m.last = in
	if m.AttemptFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.AttemptFunc(ctx, in)
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc  func(ctx context.Context, email, password, name, ipAddress string) error
	RefreshFunc   func(ctx context.Context, refreshToken string) (*models.Session, error)
	LogoutFunc    func(ctx context.Context, claims *models.TokenClaims, refreshToken string) error
	LogoutAllFunc func(ctx context.Context, userID string) error
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name, ipAddress string) error {
	if m.RegisterFunc == nil {
		return nil
	}
	return m.RegisterFunc(ctx, email, password, name, ipAddress)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims, refreshToken)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) error {
	if m.LogoutAllFunc == nil {
		return nil
	}
	return m.LogoutAllFunc(ctx, userID)
}

// MockEmailVerificationService for testing
type MockEmailVerificationService struct {
	VerifyEmailFunc        func(ctx context.Context, plainToken string) (string, error)
	ResendVerificationFunc func(ctx context.Context, email string) error
	GetStatusFunc          func(ctx context.Context, userID string) (bool, error)
}

func (m *MockEmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if m.VerifyEmailFunc == nil {
		return "", models.ErrUnauthorized
	}
	return m.VerifyEmailFunc(ctx, plainToken)
}

func (m *MockEmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email)
}

func (m *MockEmailVerificationService) GetStatus(ctx context.Context, userID string) (bool, error) {
	if m.GetStatusFunc == nil {
		return false, nil
	}
	return m.GetStatusFunc(ctx, userID)
}

// MockPasswordResetService for testing
type MockPasswordResetService struct {
	RequestResetFunc  func(ctx context.Context, email string)
	ResetPasswordFunc func(ctx context.Context, plainToken, newPassword string) error
}

func (m *MockPasswordResetService) RequestReset(ctx context.Context, email string) {
	if m.RequestResetFunc != nil {
		m.RequestResetFunc(ctx, email)
	}
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return nil
	}
	return m.ResetPasswordFunc(ctx, plainToken, newPassword)
}

// MockAccountAdminService implements AccountAdminService for testing
type MockAccountAdminService struct {
	ListUsersFunc    func(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetUserFunc      func(ctx context.Context, id string) (*models.User, error)
	UpdateStatusFunc func(ctx context.Context, actorID, targetID string, status models.AccountStatus) (*models.User, error)
	UnlockFunc       func(ctx context.Context, actorID, targetID string) (*models.User, error)
	DeleteUserFunc   func(ctx context.Context, actorID, targetID string) error
}

func (m *MockAccountAdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListUsersFunc == nil {
		return []*models.User{}, nil
	}
	return m.ListUsersFunc(ctx, limit, offset)
}

func (m *MockAccountAdminService) GetUser(ctx context.Context, id string) (*models.User, error) {
	if m.GetUserFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserFunc(ctx, id)
}

func (m *MockAccountAdminService) UpdateStatus(ctx context.Context, actorID, targetID string, status models.AccountStatus) (*models.User, error) {
	if m.UpdateStatusFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateStatusFunc(ctx, actorID, targetID, status)
}

func (m *MockAccountAdminService) Unlock(ctx context.Context, actorID, targetID string) (*models.User, error) {
	if m.UnlockFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UnlockFunc(ctx, actorID, targetID)
}

func (m *MockAccountAdminService) DeleteUser(ctx context.Context, actorID, targetID string) error {
	if m.DeleteUserFunc == nil {
		return nil
	}
	return m.DeleteUserFunc(ctx, actorID, targetID)
}

// MockAuditTrailService implements AuditTrailService for testing
type MockAuditTrailService struct {
	GetUserAuditTrailFunc func(ctx context.Context, userID uuid.UUID, eventType string, limit, offset int) ([]*models.AuditLog, error)
	GetCountForUserFunc   func(ctx context.Context, userID uuid.UUID, eventType string) (int64, error)
}

func (m *MockAuditTrailService) GetUserAuditTrail(ctx context.Context, userID uuid.UUID, eventType string, limit, offset int) ([]*models.AuditLog, error) {
	if m.GetUserAuditTrailFunc == nil {
		return nil, nil
	}
	return m.GetUserAuditTrailFunc(ctx, userID, eventType, limit, offset)
}

func (m *MockAuditTrailService) GetCountForUser(ctx context.Context, userID uuid.UUID, eventType string) (int64, error) {
	if m.GetCountForUserFunc == nil {
		return 0, nil
	}
	return m.GetCountForUserFunc(ctx, userID, eventType)
}
