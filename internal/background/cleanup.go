package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredTokenCleaner deletes revoked-token rows whose tokens have expired.
type ExpiredTokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// ExpiredRowCleaner deletes expired single-use tokens.
type ExpiredRowCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// AuditLogCleaner deletes audit rows past the retention period.
type AuditLogCleaner interface {
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// CleanupConfig lists the stores to sweep. Nil stores are skipped.
type CleanupConfig struct {
	RevokedTokens      ExpiredTokenCleaner
	VerificationTokens ExpiredRowCleaner
	ResetTokens        ExpiredRowCleaner
	AuditLogs          AuditLogCleaner
	AuditRetentionDays int // Zero keeps audit rows forever
	Interval           time.Duration
}

// CleanupManager periodically removes expired rows from the database
type CleanupManager struct {
	cfg      CleanupConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(cfg CleanupConfig, logger *slog.Logger) *CleanupManager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &CleanupManager{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start runs a sweep immediately and then once per interval until ctx is
// cancelled or Stop is called.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.cfg.Interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs one sweep. A failing store does not stop the others.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cm.cfg.RevokedTokens != nil {
		cm.report(cleanupCtx, "revoked_tokens", cm.cfg.RevokedTokens.CleanupExpiredTokens)
	}
	if cm.cfg.VerificationTokens != nil {
		cm.report(cleanupCtx, "email_verification_tokens", cm.cfg.VerificationTokens.CleanupExpired)
	}
	if cm.cfg.ResetTokens != nil {
		cm.report(cleanupCtx, "password_reset_tokens", cm.cfg.ResetTokens.CleanupExpired)
	}
	if cm.cfg.AuditLogs != nil && cm.cfg.AuditRetentionDays > 0 {
		cm.report(cleanupCtx, "audit_logs", func(ctx context.Context) (int64, error) {
			return cm.cfg.AuditLogs.Cleanup(ctx, cm.cfg.AuditRetentionDays)
		})
	}
}

func (cm *CleanupManager) report(ctx context.Context, table string, sweep func(context.Context) (int64, error)) {
	rowsDeleted, err := sweep(ctx)
	if err != nil {
		cm.logger.Error("cleanup failed", slog.String("table", table), slog.Any("error", err))
		return
	}
	if rowsDeleted > 0 {
		cm.logger.Info("cleanup completed", slog.String("table", table), slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
