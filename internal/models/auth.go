package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type TokenClaims struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	Device   string `json:"device,omitempty"`
	Remember bool   `json:"remember,omitempty"`
	jwt.RegisteredClaims
}

// Session is the authenticated result of a successful login.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Remember         bool
	User             *User
}
