//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/BradenHooton/ledgerguard/internal/events"
	"github.com/BradenHooton/ledgerguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/ledgerguard/internal/middleware"
	"github.com/BradenHooton/ledgerguard/internal/ratelimit"
	"github.com/BradenHooton/ledgerguard/internal/repositories"
	"github.com/BradenHooton/ledgerguard/internal/routes"
	"github.com/BradenHooton/ledgerguard/internal/services"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

// SentEmail represents a captured email message
type SentEmail struct {
	Kind  string
	To    string
	Token string
}

// MockEmailService captures sent emails for test assertions
type MockEmailService struct {
	mu   sync.Mutex
	sent []SentEmail
}

func (m *MockEmailService) record(kind, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{Kind: kind, To: to, Token: token})
	return nil
}

func (m *MockEmailService) SendVerificationEmail(_ context.Context, email, token string, _ time.Time) error {
	return m.record("verification", email, token)
}

func (m *MockEmailService) SendPasswordResetEmail(_ context.Context, email, token string, _ time.Time) error {
	return m.record("password_reset", email, token)
}

func (m *MockEmailService) SendLockoutNotice(_ context.Context, email string, _ time.Time) error {
	return m.record("lockout", email, "")
}

// Last returns the most recent email of kind sent to address.
func (m *MockEmailService) Last(kind, address string) *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind && m.sent[i].To == address {
			e := m.sent[i]
			return &e
		}
	}
	return nil
}

// MockPublisher captures published events.
type MockPublisher struct {
	mu     sync.Mutex
	Events []events.Event
}

func (p *MockPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, evt)
	return nil
}

func (p *MockPublisher) Close() error { return nil }

// Count returns how many events of type were published for account.
func (p *MockPublisher) Count(eventType, accountID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.Events {
		if e.Type == eventType && e.AccountID == accountID {
			n++
		}
	}
	return n
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server    *httptest.Server
	DB        *database.DB
	Email     *MockEmailService
	Publisher *MockPublisher
	Audit     *services.AuditService

	csrf *auth.CSRFTokenManager
}

// NewTestServer wires the full stack against db with captured email and
// events. The login limiter allows five attempts per minute and accounts
// lock after five failures. Requests from 127.0.0.1 may set X-Forwarded-For.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	userRepo := repositories.NewUserRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	verificationRepo := repositories.NewEmailVerificationRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	email := &MockEmailService{}
	publisher := &MockPublisher{}

	tokenManager := auth.NewTokenManager("integration-secret-with-enough-length", 15*time.Minute, 7*24*time.Hour, 2*time.Hour)
	tokenManager.SetUserRepo(userRepo)
	csrfManager := auth.NewCSRFTokenManager(time.Hour, nil)

	hasher := pkgauth.NewBcryptHasher(4)
	auditLogger := pkglogger.NewAuditLogger(logger)
	auditService := services.NewAuditService(auditRepo, logger)

	verificationService := services.NewEmailVerificationService(verificationRepo, userRepo, email, auditService, nil, logger, 24*time.Hour, 0)
	resetService := services.NewPasswordResetService(resetRepo, userRepo, hasher, email, auditService, nil, logger, time.Hour, 0)
	authService := services.NewAuthService(userRepo, revokeRepo, tokenManager, hasher, verificationService, auditService, auditLogger, nil, logger)
	adminService := services.NewAccountAdminService(userRepo, publisher, auditService, auditLogger, logger)

	guard, err := services.NewAccessGuard(services.AccessGuardDeps{
		Accounts: userRepo,
		Limiter:  ratelimit.NewMemoryLimiter(nil),
		Hasher:   hasher,
		Sessions: tokenManager,
		Revoker:  revokeRepo,
		Audit:    auditService,
		AuditLog: auditLogger,
		Events:   publisher,
		Mailer:   email,
		Logger:   logger,
	}, services.AccessGuardConfig{
		MaxFailedAttempts:    5,
		LockoutDuration:      15 * time.Minute,
		RateLimitMaxAttempts: 5,
		RateLimitWindow:      time.Minute,
	})
	if err != nil {
		panic(err)
	}

	cookies := auth.CookieConfigForEnv("test")
	ipConfig := pkghttp.NewIPConfig([]string{"127.0.0.1"})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r, routes.Dependencies{
		AuthHandler:  handlers.NewAuthHandler(guard, authService, verificationService, resetService, csrfManager, cookies, ipConfig, logger),
		UserHandler:  handlers.NewUserHandler(adminService),
		AuditHandler: handlers.NewAuditHandler(auditService),
		TokenManager: tokenManager,
		Revocations:  revokeRepo,
		Users:        userRepo,
		StatusGuard: &auth.StatusGuard{
			Users:   userRepo,
			Tokens:  tokenManager,
			Revoker: revokeRepo,
			CSRF:    csrfManager,
			Cookies: cookies,
			Logger:  logger,
		},
		CSRF:          csrfManager,
		IPConfig:      ipConfig,
		AuthRateLimit: 10000,
		Logger:        logger,
	})

	return &TestServer{
		Server:    httptest.NewServer(r),
		DB:        db,
		Email:     email,
		Publisher: publisher,
		Audit:     auditService,
		csrf:      csrfManager,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Audit.Wait()
	ts.csrf.Stop()
}

// Request sends a JSON request. No cookies are attached, so CSRF checks do
// not apply.
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// Login posts credentials as if from clientIP.
func (ts *TestServer) Login(email, password, clientIP string) (*http.Response, error) {
	return ts.Request(http.MethodPost, "/auth/login",
		map[string]interface{}{"email": email, "password": password},
		map[string]string{"X-Forwarded-For": clientIP})
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{"Authorization": "Bearer " + accessToken})
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ReadBody drains and returns the response body.
func ReadBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
