package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/events"
	"github.com/BradenHooton/ledgerguard/internal/metrics"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/internal/ratelimit"
	"github.com/BradenHooton/ledgerguard/internal/repositories"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

// Login outcomes as recorded in logs, metrics and the audit trail.
const (
	OutcomeSuccess            = "success"
	OutcomeRateLimited        = "rate_limited"
	OutcomeAccountLocked      = "account_locked"
	OutcomeAccountSuspended   = "account_suspended"
	OutcomeAccountInactive    = "account_inactive"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeEmailNotVerified   = "email_not_verified"
)

// dummyPassword is hashed once so that unknown emails still pay for a compare.
const dummyPassword = "ledgerguard-timing-equalizer"

// LoginAccountStore is the account storage the guard needs.
type LoginAccountStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	IncrementFailedLogins(ctx context.Context, id string, threshold int, now, lockUntil time.Time) (*repositories.FailedLoginResult, error)
	RecordSuccessfulLogin(ctx context.Context, id, ipAddress string, at time.Time) error
}

// SessionIssuer mints and reads session tokens.
type SessionIssuer interface {
	IssueSession(user *models.User, opts auth.IssueOptions) (*models.Session, error)
	ValidateToken(ctx context.Context, tokenString string) (*models.TokenClaims, error)
}

// TokenRevoker records token identifiers that may no longer be used.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
}

// Delayer pads a response to a minimum duration measured from start.
type Delayer interface {
	WaitFrom(ctx context.Context, start time.Time, success bool)
}

// AccessGuardConfig holds the tunable thresholds.
type AccessGuardConfig struct {
	MaxFailedAttempts    int
	LockoutDuration      time.Duration
	RateLimitMaxAttempts int
	RateLimitWindow      time.Duration
	RequireVerifiedEmail bool
}

// AccessGuardDeps are the collaborators of an AccessGuard. Audit, AuditLog,
// Events, Mailer and Delay may be nil. Clock and Logger default to the system
// clock and slog.Default.
type AccessGuardDeps struct {
	Accounts LoginAccountStore
	Limiter  ratelimit.Limiter
	Hasher   pkgauth.Hasher
	Sessions SessionIssuer
	Revoker  TokenRevoker
	Clock    clock.Clock
	Delay    Delayer
	Audit    *AuditService
	AuditLog *pkglogger.AuditLogger
	Events   events.Publisher
	Mailer   EmailService
	Logger   *slog.Logger
}

// LoginAttempt is one submitted sign-in form.
type LoginAttempt struct {
	Email      string
	Password   string
	IPAddress  string
	UserAgent  string
	Remember   bool
	DeviceName string

	// PriorTokens are tokens the client presented with the request. They are
	// revoked once the new session exists.
	PriorTokens []string
}

// AccessGuard decides whether a login attempt becomes a session. Gates run in
// a fixed order: rate limit, account lookup, account state, credentials,
// then session establishment.
type AccessGuard struct {
	deps      AccessGuardDeps
	cfg       AccessGuardConfig
	dummyHash string

	// notifications tracks lockout events and emails still being sent.
	notifications sync.WaitGroup
}

// NewAccessGuard creates an AccessGuard. It hashes a throwaway password once
// so unknown emails cost the same as wrong passwords.
func NewAccessGuard(deps AccessGuardDeps, cfg AccessGuardConfig) (*AccessGuard, error) {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	dummyHash, err := deps.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &AccessGuard{deps: deps, cfg: cfg, dummyHash: dummyHash}, nil
}

// Wait blocks until lockout notifications already started have finished.
// Used on shutdown.
func (g *AccessGuard) Wait() {
	g.notifications.Wait()
}

// LimiterKey is the rate limit key for an (email, ip) pair.
func LimiterKey(email, ipAddress string) string {
	return pkgauth.NormalizeEmail(email) + "|" + ipAddress
}

// Attempt evaluates one login. It returns a session or exactly one of
// *models.RateLimitedError, *models.AccountLockedError, ErrAccountSuspended,
// ErrAccountInactive, ErrInvalidCredentials or ErrEmailNotVerified. Any
// other error is an infrastructure failure.
func (g *AccessGuard) Attempt(ctx context.Context, in LoginAttempt) (*models.Session, error) {
	start := time.Now()
	email := pkgauth.NormalizeEmail(in.Email)
	key := LimiterKey(email, in.IPAddress)

	// Gate 1: rate limit, before any account lookup.
	limited, err := g.deps.Limiter.TooManyAttempts(ctx, key, g.cfg.RateLimitMaxAttempts)
	if err != nil {
		g.deps.Logger.ErrorContext(ctx, "rate limiter unavailable", slog.Any("error", err))
		return nil, fmt.Errorf("check rate limit: %w", err)
	}
	if limited {
		wait, err := g.deps.Limiter.AvailableIn(ctx, key)
		if err != nil {
			g.deps.Logger.WarnContext(ctx, "failed to read rate limit window", slog.Any("error", err))
			wait = g.cfg.RateLimitWindow
		}
		g.record(ctx, in, nil, OutcomeRateLimited, 0, nil)
		return nil, &models.RateLimitedError{SecondsRemaining: ratelimit.SecondsUntil(wait)}
	}

	// Gate 2: lookup. A missing account continues so the response is the
	// same as for a wrong password.
	user, err := g.deps.Accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			g.deps.Logger.ErrorContext(ctx, "failed to look up account", slog.Any("error", err))
			return nil, fmt.Errorf("look up account: %w", err)
		}
		user = nil
	}

	// Gate 3: account state. The password is not checked for blocked accounts.
	if user != nil {
		if accessErr := user.AccessError(g.deps.Clock.Now()); accessErr != nil {
			g.record(ctx, in, user, stateOutcome(accessErr), user.FailedLoginAttempts, user.LockedUntil)
			g.wait(ctx, start)
			return nil, accessErr
		}
	}

	// Gate 4: credentials.
	hash := g.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	if err := g.deps.Hasher.Compare(hash, in.Password); err != nil || user == nil {
		if err != nil && !errors.Is(err, pkgauth.ErrPasswordMismatch) {
			g.deps.Logger.WarnContext(ctx, "stored password hash could not be compared", slog.Any("error", err))
		}
		return nil, g.failCredentials(ctx, in, key, user, start)
	}

	now := g.deps.Clock.Now()
	if err := g.deps.Limiter.Clear(ctx, key); err != nil {
		g.deps.Logger.WarnContext(ctx, "failed to clear rate limit key", slog.Any("error", err))
	}
	if err := g.deps.Accounts.RecordSuccessfulLogin(ctx, user.ID, in.IPAddress, now); err != nil {
		g.deps.Logger.ErrorContext(ctx, "failed to record successful login",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, fmt.Errorf("record login: %w", err)
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now
	if in.IPAddress != "" {
		ip := in.IPAddress
		user.LastLoginIP = &ip
	}

	if g.cfg.RequireVerifiedEmail && !user.EmailVerified() {
		g.record(ctx, in, user, OutcomeEmailNotVerified, 0, nil)
		return nil, models.ErrEmailNotVerified
	}

	// Gate 5: a fresh session. Tokens from before the login are revoked so a
	// planted identifier cannot ride along.
	g.revokePrior(ctx, in.PriorTokens)

	session, err := g.deps.Sessions.IssueSession(user, auth.IssueOptions{
		Remember: in.Remember,
		Device:   in.DeviceName,
	})
	if err != nil {
		g.deps.Logger.ErrorContext(ctx, "failed to issue session",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil, fmt.Errorf("issue session: %w", err)
	}

	g.record(ctx, in, user, OutcomeSuccess, 0, nil)
	return session, nil
}

func (g *AccessGuard) failCredentials(ctx context.Context, in LoginAttempt, key string, user *models.User, start time.Time) error {
	if _, err := g.deps.Limiter.Hit(ctx, key, g.cfg.RateLimitWindow); err != nil {
		g.deps.Logger.ErrorContext(ctx, "failed to count attempt in rate limiter", slog.Any("error", err))
	}

	attempts := 0
	var lockedUntil *time.Time
	if user != nil {
		now := g.deps.Clock.Now()
		result, err := g.deps.Accounts.IncrementFailedLogins(ctx, user.ID, g.cfg.MaxFailedAttempts, now, now.Add(g.cfg.LockoutDuration))
		if err != nil {
			g.deps.Logger.ErrorContext(ctx, "failed to count failed login",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		} else {
			attempts = result.Attempts
			lockedUntil = result.LockedUntil
			user.FailedLoginAttempts = result.Attempts
			user.LockedUntil = result.LockedUntil
			if result.JustLocked {
				g.onLocked(ctx, in, user, *result.LockedUntil)
			}
		}
	}

	g.record(ctx, in, user, OutcomeInvalidCredentials, attempts, lockedUntil)
	g.wait(ctx, start)
	return models.ErrInvalidCredentials
}

// onLocked notifies other services and the owner. Neither may hold up the
// response.
func (g *AccessGuard) onLocked(ctx context.Context, in LoginAttempt, user *models.User, lockedUntil time.Time) {
	metrics.RecordLockout()
	g.deps.Logger.WarnContext(ctx, "account locked after repeated failed logins",
		slog.String("user_id", user.ID),
		slog.String("ip_address", in.IPAddress),
		slog.Time("locked_until", lockedUntil))

	if g.deps.Audit != nil {
		g.deps.Audit.RecordAccountAction(ctx, models.AuditEventTypeLockout, "", user.ID, models.AuditActionUpdate,
			models.AuditMetadata{"locked_until": lockedUntil.UTC().Format(time.RFC3339), "ip_address": in.IPAddress})
	}

	detached := context.WithoutCancel(ctx)
	email := user.Email
	userID := user.ID

	if g.deps.Events != nil {
		g.notifications.Add(1)
		go func() {
			defer g.notifications.Done()
			err := g.deps.Events.Publish(detached, events.Event{
				Type:      events.RoutingKeyAccountLocked,
				AccountID: userID,
				Data: map[string]string{
					"locked_until": lockedUntil.UTC().Format(time.RFC3339),
					"ip_address":   in.IPAddress,
				},
			})
			if err != nil {
				g.deps.Logger.ErrorContext(detached, "failed to publish lockout event",
					slog.String("user_id", userID),
					slog.Any("error", err))
			}
		}()
	}

	if g.deps.Mailer != nil {
		g.notifications.Add(1)
		go func() {
			defer g.notifications.Done()
			sendCtx, cancel := context.WithTimeout(detached, 10*time.Second)
			defer cancel()
			if err := g.deps.Mailer.SendLockoutNotice(sendCtx, email, lockedUntil); err != nil {
				g.deps.Logger.ErrorContext(sendCtx, "failed to send lockout notice",
					slog.String("user_id", userID),
					slog.Any("error", err))
			}
		}()
	}
}

func (g *AccessGuard) revokePrior(ctx context.Context, tokens []string) {
	if g.deps.Revoker == nil {
		return
	}
	for _, token := range tokens {
		if token == "" {
			continue
		}
		claims, err := g.deps.Sessions.ValidateToken(ctx, token)
		if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
			continue
		}
		if err := g.deps.Revoker.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, claims.ExpiresAt.Time, "session_regenerated"); err != nil {
			g.deps.Logger.WarnContext(ctx, "failed to revoke prior token",
				slog.String("jti", claims.ID),
				slog.Any("error", err))
		}
	}
}

// record writes the security log line, the metric and the audit row.
func (g *AccessGuard) record(ctx context.Context, in LoginAttempt, user *models.User, outcome string, attempts int, lockedUntil *time.Time) {
	metrics.RecordLoginOutcome(outcome)

	userID := ""
	if user != nil {
		userID = user.ID
	}

	if g.deps.AuditLog != nil {
		g.deps.AuditLog.LogLogin(ctx, pkglogger.LoginEvent{
			Email:     in.Email,
			AccountID: userID,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
			Outcome:   outcome,
			Attempts:  attempts,
			Timestamp: g.deps.Clock.Now(),
		})
	}

	if g.deps.Audit != nil {
		failureReason := ""
		if outcome != OutcomeSuccess {
			failureReason = outcome
		}
		g.deps.Audit.RecordAuthEvent(ctx, AuthEvent{
			EventType:     models.AuditEventTypeLogin,
			UserID:        userID,
			Action:        models.AuditActionAccess,
			Success:       outcome == OutcomeSuccess,
			FailureReason: failureReason,
			IPAddress:     in.IPAddress,
			UserAgent:     in.UserAgent,
			Metadata:      models.NewLoginAuditMetadata(outcome, attempts, in.DeviceName, lockedUntil),
		})
	}
}

func (g *AccessGuard) wait(ctx context.Context, start time.Time) {
	if g.deps.Delay != nil {
		g.deps.Delay.WaitFrom(ctx, start, false)
	}
}

func stateOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrAccountLocked):
		return OutcomeAccountLocked
	case errors.Is(err, models.ErrAccountInactive):
		return OutcomeAccountInactive
	default:
		return OutcomeAccountSuspended
	}
}
