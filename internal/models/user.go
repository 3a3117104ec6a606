package models

import (
	"time"
)

// AccountStatus is the administrative state of an account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusInactive  AccountStatus = "inactive"

	// AccountStatusUnknown stands in for any stored value we don't recognize.
	// Consumers must treat it as the most restrictive state.
	AccountStatusUnknown AccountStatus = "unknown"
)

// ParseAccountStatus maps a raw column value onto the closed set of statuses.
func ParseAccountStatus(raw string) AccountStatus {
	switch AccountStatus(raw) {
	case AccountStatusActive, AccountStatusSuspended, AccountStatusInactive:
		return AccountStatus(raw)
	default:
		return AccountStatusUnknown
	}
}

// Valid reports whether s is one of the assignable statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusSuspended, AccountStatusInactive:
		return true
	}
	return false
}

type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	Role                string // "user" or "admin"
	Status              AccountStatus
	FailedLoginAttempts int
	LockedUntil         *time.Time // Temporary lock; nil or past means unlocked
	EmailVerifiedAt     *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         *string
	TokenKey            string     // Per-user secret for composite token signing
	PasswordChangedAt   *time.Time // Tokens issued before this are rejected
	DeletedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the lock is still in force at now.
// A lock that expires exactly at now is treated as expired.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// LockRemaining returns the time left on an active lock, or zero.
func (u *User) LockRemaining(now time.Time) time.Duration {
	if !u.IsLocked(now) {
		return 0
	}
	return u.LockedUntil.Sub(now)
}

func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// AccessError reports whether the account may sign in or keep a session at
// now. The lock is checked before the status. Any status outside the known
// set is denied as suspended.
func (u *User) AccessError(now time.Time) error {
	if u.IsLocked(now) {
		return NewAccountLockedError(u.LockRemaining(now))
	}

	switch u.Status {
	case AccountStatusActive:
		return nil
	case AccountStatusSuspended:
		return ErrAccountSuspended
	case AccountStatusInactive:
		return ErrAccountInactive
	default:
		return ErrAccountSuspended
	}
}
