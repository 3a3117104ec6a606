package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
)

const testSecret = "test-secret-32-characters-long!!"

func newTestTokenManager(users *MockUserRepo, c clock.Clock) *TokenManager {
	tm := NewTokenManager(testSecret, 15*time.Minute, 30*24*time.Hour, 2*time.Hour)
	tm.SetUserRepo(users)
	if c != nil {
		tm.SetClock(c)
	}
	return tm
}

func TestTokenManager_IssueSession_RememberControlsRefreshTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	user := activeUser("u1")
	tm := newTestTokenManager(usersByID(user), clock.NewFixed(now))

	short, err := tm.IssueSession(user, IssueOptions{Remember: false})
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), short.AccessExpiresAt)
	assert.Equal(t, now.Add(2*time.Hour), short.RefreshExpiresAt)
	assert.False(t, short.Remember)

	long, err := tm.IssueSession(user, IssueOptions{Remember: true, Device: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*24*time.Hour), long.RefreshExpiresAt)
	assert.True(t, long.Remember)
}

func TestTokenManager_IssueSession_FreshIdentifiers(t *testing.T) {
	user := activeUser("u1")
	tm := newTestTokenManager(usersByID(user), nil)
	ctx := context.Background()

	first, err := tm.IssueSession(user, IssueOptions{})
	require.NoError(t, err)
	second, err := tm.IssueSession(user, IssueOptions{})
	require.NoError(t, err)

	a, err := tm.ValidateToken(ctx, first.AccessToken)
	require.NoError(t, err)
	b, err := tm.ValidateToken(ctx, second.AccessToken)
	require.NoError(t, err)
	r, err := tm.ValidateToken(ctx, first.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, r.ID)
	assert.Equal(t, models.TokenTypeAccess, a.Type)
	assert.Equal(t, models.TokenTypeRefresh, r.Type)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, "user", a.Role)
}

func TestTokenManager_ValidateToken_RotatedKeyRejected(t *testing.T) {
	user := activeUser("u1")
	tm := newTestTokenManager(usersByID(user), nil)

	session, err := tm.IssueSession(user, IssueOptions{})
	require.NoError(t, err)

	user.TokenKey = "rotated"

	_, err = tm.ValidateToken(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_ValidateToken_DeletedUserRejected(t *testing.T) {
	user := activeUser("u1")
	tm := newTestTokenManager(usersByID(user), nil)

	session, err := tm.IssueSession(user, IssueOptions{})
	require.NoError(t, err)

	tm.SetUserRepo(usersByID())

	_, err = tm.ValidateToken(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_ValidateToken_Expired(t *testing.T) {
	c := clock.NewFixed(time.Now())
	user := activeUser("u1")
	tm := newTestTokenManager(usersByID(user), c)

	session, err := tm.IssueSession(user, IssueOptions{})
	require.NoError(t, err)

	c.Advance(16 * time.Minute)

	_, err = tm.ValidateToken(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = tm.ValidateToken(context.Background(), session.RefreshToken)
	assert.NoError(t, err, "refresh token outlives the access token")
}

func TestTokenManager_ValidateToken_Garbage(t *testing.T) {
	tm := newTestTokenManager(usersByID(), nil)

	_, err := tm.ValidateToken(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestNewTokenManager_SessionTTLCappedByRefreshTTL(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Minute, time.Hour, 48*time.Hour)
	assert.Equal(t, time.Hour, tm.sessionExpiry)
}
