package logger

import (
	"context"
	"log/slog"
	"time"
)

// LoginEvent describes one login decision for the security log.
type LoginEvent struct {
	Email     string // Raw address; masked before it is written
	AccountID string // Empty when no account matched
	IPAddress string
	UserAgent string
	Outcome   string // "success" or the failure kind
	Attempts  int    // Account failure counter after this attempt
	Timestamp time.Time
}

// AuditLogger writes security events to the structured log. It never
// blocks on anything but the log handler.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogLogin records a login decision. Failures log at warn.
func (al *AuditLogger) LogLogin(ctx context.Context, event LoginEvent) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", "login"),
		slog.String("outcome", event.Outcome),
		slog.String("email", SanitizedEmail(event.Email)),
		slog.String("timestamp", ts.UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("user_id", event.AccountID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Attempts > 0 {
		attrs = append(attrs, slog.Int("failed_attempts", event.Attempts))
	}

	level := slog.LevelWarn
	if event.Outcome == "success" {
		level = slog.LevelInfo
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogAccountAction records an account state change made by userID or an admin.
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
