package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/BradenHooton/ledgerguard/pkg/clock"
)

// csrfTokenEntry stores token metadata
type csrfTokenEntry struct {
	userID string // Empty for anonymous visitors
	expiry time.Time
}

// CSRFTokenManager issues and checks synchronizer tokens bound to a user.
type CSRFTokenManager struct {
	validTokens map[string]*csrfTokenEntry
	mu          sync.RWMutex
	tokenTTL    time.Duration
	clock       clock.Clock
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewCSRFTokenManager creates a manager and starts its sweeper. Call Stop on shutdown.
func NewCSRFTokenManager(ttl time.Duration, c clock.Clock) *CSRFTokenManager {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if c == nil {
		c = clock.System()
	}
	manager := &CSRFTokenManager{
		validTokens: make(map[string]*csrfTokenEntry),
		tokenTTL:    ttl,
		clock:       c,
		stopCh:      make(chan struct{}),
	}

	go manager.cleanupLoop(5 * time.Minute)

	return manager
}

func (m *CSRFTokenManager) TTL() time.Duration {
	return m.tokenTTL
}

// GenerateToken creates a new CSRF token for userID
func (m *CSRFTokenManager) GenerateToken(userID string) (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(randomBytes)

	m.mu.Lock()
	m.validTokens[token] = &csrfTokenEntry{
		userID: userID,
		expiry: m.clock.Now().Add(m.tokenTTL),
	}
	m.mu.Unlock()

	return token, nil
}

// ValidateToken checks that token is live and belongs to userID
func (m *CSRFTokenManager) ValidateToken(token, userID string) bool {
	m.mu.RLock()
	entry, exists := m.validTokens[token]
	m.mu.RUnlock()

	if !exists {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(entry.userID), []byte(userID)) != 1 {
		return false
	}

	if !m.clock.Now().Before(entry.expiry) {
		m.RevokeToken(token)
		return false
	}

	return true
}

// RevokeToken invalidates a CSRF token
func (m *CSRFTokenManager) RevokeToken(token string) {
	m.mu.Lock()
	delete(m.validTokens, token)
	m.mu.Unlock()
}

// Regenerate revokes oldToken (if any) and issues a replacement for userID.
func (m *CSRFTokenManager) Regenerate(oldToken, userID string) (string, error) {
	if oldToken != "" {
		m.RevokeToken(oldToken)
	}
	return m.GenerateToken(userID)
}

// Stop ends the sweeper goroutine. Safe to call more than once.
func (m *CSRFTokenManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *CSRFTokenManager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for token, entry := range m.validTokens {
		if !now.Before(entry.expiry) {
			delete(m.validTokens, token)
		}
	}
}

func (m *CSRFTokenManager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}
