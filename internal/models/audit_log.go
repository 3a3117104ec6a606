package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for audit logging
const (
	AuditEventTypeLogin         = "login"
	AuditEventTypeLogout        = "logout"
	AuditEventTypeRegister      = "register"
	AuditEventTypeLockout       = "lockout"
	AuditEventTypeStatusChange  = "status_change"
	AuditEventTypeSessionEnded  = "session_terminated"
	AuditEventTypePasswordReset = "password_reset"
	AuditEventTypeEmailVerified = "email_verified"
)

// Resource types
const (
	AuditResourceTypeUser = "user"
)

// Actions
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionAccess = "access"
)

type AuditLog struct {
	ID            uuid.UUID     `db:"id"`
	EventType     string        `db:"event_type"`
	ActorID       *uuid.UUID    `db:"actor_id"`
	TargetID      *uuid.UUID    `db:"target_id"`
	ResourceType  *string       `db:"resource_type"`
	ResourceID    *string       `db:"resource_id"`
	Action        string        `db:"action"`
	Success       bool          `db:"success"`
	FailureReason *string       `db:"failure_reason"`
	IPAddress     *string       `db:"ip_address"`
	UserAgent     *string       `db:"user_agent"`
	Metadata      AuditMetadata `db:"metadata"`
	CreatedAt     time.Time     `db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// NewLoginAuditMetadata builds metadata for a login decision. Empty values are omitted.
func NewLoginAuditMetadata(outcome string, failedAttempts int, device string, lockedUntil *time.Time) AuditMetadata {
	metadata := AuditMetadata{
		"outcome": outcome,
	}
	if failedAttempts > 0 {
		metadata["failed_attempts"] = failedAttempts
	}
	if device != "" {
		metadata["device_name"] = device
	}
	if lockedUntil != nil {
		metadata["locked_until"] = lockedUntil.UTC().Format(time.RFC3339)
	}
	return metadata
}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}
