package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditLogColumns = `id, event_type, actor_id, target_id, resource_type, resource_id,
	action, success, failure_reason, ip_address, user_agent, metadata, created_at`

// AuditLogRepository persists the account audit trail: logins, lockouts,
// status changes and unlocks. Rows are append-only until retention expires.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	var entry models.AuditLog

	err := row.Scan(
		&entry.ID, &entry.EventType, &entry.ActorID, &entry.TargetID,
		&entry.ResourceType, &entry.ResourceID, &entry.Action, &entry.Success,
		&entry.FailureReason, &entry.IPAddress, &entry.UserAgent, &entry.Metadata,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func collectAuditLogs(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	entries := make([]*models.AuditLog, 0)
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return entries, nil
}

// Create appends an entry. Nil metadata is stored as an empty object.
func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditLog) (*models.AuditLog, error) {
	created, err := scanAuditLog(r.pool.QueryRow(ctx, `
		INSERT INTO audit_logs (
			event_type, actor_id, target_id, resource_type, resource_id,
			action, success, failure_reason, ip_address, user_agent, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, '{}'::jsonb))
		RETURNING `+auditLogColumns,
		entry.EventType, entry.ActorID, entry.TargetID, entry.ResourceType, entry.ResourceID,
		entry.Action, entry.Success, entry.FailureReason, entry.IPAddress, entry.UserAgent, entry.Metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to record %s audit event: %w", entry.EventType, err)
	}

	return created, nil
}

// GetByUserID pages through entries where the account is actor or target,
// newest first. A lockout and the failed login that caused it share a
// timestamp, so id breaks ties to keep pages stable. An empty eventType
// matches every event.
func (r *AuditLogRepository) GetByUserID(ctx context.Context, userID uuid.UUID, eventType string, limit int, offset int) ([]*models.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+auditLogColumns+`
		FROM audit_logs
		WHERE (actor_id = $1 OR target_id = $1) AND ($2 = '' OR event_type = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, userID, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail for %s: %w", userID, err)
	}

	return collectAuditLogs(rows)
}

// CountByUserID is the total behind GetByUserID, for X-Total-Count.
func (r *AuditLogRepository) CountByUserID(ctx context.Context, userID uuid.UUID, eventType string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM audit_logs
		WHERE (actor_id = $1 OR target_id = $1) AND ($2 = '' OR event_type = $2)
	`, userID, eventType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit trail for %s: %w", userID, err)
	}

	return count, nil
}

// Cleanup deletes entries older than the retention period.
func (r *AuditLogRepository) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM audit_logs WHERE created_at < NOW() - make_interval(days => $1)`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to apply audit retention: %w", err)
	}

	return result.RowsAffected(), nil
}
