package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserTokenKeyFetcher defines interface for retrieving user's TokenKey
type UserTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// IssueOptions shape a freshly minted session.
type IssueOptions struct {
	Remember bool
	Device   string
}

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration // Remembered sessions
	sessionExpiry      time.Duration // Browser sessions
	userRepo           UserTokenKeyFetcher
	clock              clock.Clock
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, refreshExpiry, sessionExpiry time.Duration) *TokenManager {
	if sessionExpiry <= 0 || sessionExpiry > refreshExpiry {
		sessionExpiry = refreshExpiry
	}
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		sessionExpiry:      sessionExpiry,
		clock:              clock.System(),
	}
}

// SetUserRepo enables composite signing with per-user TokenKey
func (tm *TokenManager) SetUserRepo(repo UserTokenKeyFetcher) {
	tm.userRepo = repo
}

func (tm *TokenManager) SetClock(c clock.Clock) {
	tm.clock = c
}

// signingKey is global_secret + user.TokenKey, so rotating the key kills
// every token the user holds. Without a user repo only the global secret is used.
func (tm *TokenManager) signingKey(tokenKey string) []byte {
	if tm.userRepo == nil {
		return []byte(tm.secret)
	}
	return []byte(tm.secret + tokenKey)
}

// IssueSession mints an access and refresh token pair, each with a new jti.
// Without Remember the refresh token lives only for the short session TTL.
func (tm *TokenManager) IssueSession(user *models.User, opts IssueOptions) (*models.Session, error) {
	now := tm.clock.Now()

	refreshTTL := tm.sessionExpiry
	if opts.Remember {
		refreshTTL = tm.refreshTokenExpiry
	}

	session := &models.Session{
		AccessExpiresAt:  now.Add(tm.accessTokenExpiry),
		RefreshExpiresAt: now.Add(refreshTTL),
		Remember:         opts.Remember,
		User:             user,
	}

	var err error
	session.AccessToken, err = tm.sign(user, models.TokenTypeAccess, opts, now, session.AccessExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	session.RefreshToken, err = tm.sign(user, models.TokenTypeRefresh, opts, now, session.RefreshExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return session, nil
}

func (tm *TokenManager) sign(user *models.User, tokenType string, opts IssueOptions, now, expiresAt time.Time) (string, error) {
	claims := &models.TokenClaims{
		Type:     tokenType,
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		Device:   opts.Device,
		Remember: opts.Remember,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.signingKey(user.TokenKey))
}

// ValidateToken verifies a token and returns its claims. The owner's current
// TokenKey is loaded, so tokens of deleted users or rotated keys fail.
func (tm *TokenManager) ValidateToken(ctx context.Context, tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.clock.Now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		tokenClaims, ok := token.Claims.(*models.TokenClaims)
		if !ok || tokenClaims.UserID == "" {
			return nil, errors.New("missing subject")
		}

		if tm.userRepo == nil {
			return []byte(tm.secret), nil
		}

		user, err := tm.userRepo.GetByID(ctx, tokenClaims.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load token owner: %w", err)
		}
		return tm.signingKey(user.TokenKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeAccess && claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: invalid token type", models.ErrUnauthorized)
	}

	return claims, nil
}
