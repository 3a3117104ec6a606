package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login outcomes
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountSuspended   = errors.New("account is suspended")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrRateLimitExceeded  = errors.New("too many login attempts")
)

// RateLimitedError is returned when the (email, ip) key has exhausted its window.
type RateLimitedError struct {
	SecondsRemaining int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts, retry in %d seconds", e.SecondsRemaining)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimitExceeded }

// AccountLockedError is returned while an account lock is in force.
type AccountLockedError struct {
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry in %d minutes", e.MinutesRemaining)
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// NewAccountLockedError rounds the remaining lock time up to whole minutes.
func NewAccountLockedError(remaining time.Duration) *AccountLockedError {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return &AccountLockedError{MinutesRemaining: minutes}
}
