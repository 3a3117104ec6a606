package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PasswordResetRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db, pool: db.Pool}
}

func scanResetTokenRow(row rowScanner) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken

	err := row.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.UsedAt, &token.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// Create stores a new reset token. Any outstanding tokens for the user are
// invalidated first so only the latest link works.
func (r *PasswordResetRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	var token *models.PasswordResetToken

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE password_reset_tokens SET used_at = NOW() WHERE user_id = $1 AND used_at IS NULL`,
			userID,
		); err != nil {
			return err
		}

		var err error
		token, err = scanResetTokenRow(tx.QueryRow(ctx, `
			INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
			VALUES ($1, $2, $3)
			RETURNING id, user_id, token_hash, expires_at, used_at, created_at
		`, userID, tokenHash, expiresAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create password reset token: %w", err)
	}

	return token, nil
}

func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`

	return scanResetTokenRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// GetLatestByUserID returns the most recently issued token for a user.
func (r *PasswordResetRepository) GetLatestByUserID(ctx context.Context, userID string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanResetTokenRow(r.pool.QueryRow(ctx, query, userID))
}

// MarkAsUsed consumes a token. Returns ErrNotFound if it was already used,
// so two concurrent resets cannot both succeed.
func (r *PasswordResetRepository) MarkAsUsed(ctx context.Context, id string) error {
	query := `UPDATE password_reset_tokens SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark reset token as used: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *PasswordResetRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE expires_at < NOW() - INTERVAL '7 days' OR used_at IS NOT NULL`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup reset tokens: %w", err)
	}

	return result.RowsAffected(), nil
}
