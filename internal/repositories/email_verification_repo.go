package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const verificationTokenColumns = `id, user_id, token_hash, email, expires_at, used_at, created_at`

// EmailVerificationRepository stores hashed email verification tokens. Only
// the SHA-256 of a token is persisted.
type EmailVerificationRepository struct {
	pool *pgxpool.Pool
}

func NewEmailVerificationRepository(db *database.DB) *EmailVerificationRepository {
	return &EmailVerificationRepository{pool: db.Pool}
}

func scanVerificationToken(row rowScanner) (*models.EmailVerificationToken, error) {
	var token models.EmailVerificationToken

	err := row.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.Email,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// Create stores a token for the address the account had when it was issued.
// A later email change leaves the token pointing at the old address.
func (r *EmailVerificationRepository) Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error) {
	token, err := scanVerificationToken(r.pool.QueryRow(ctx, `
		INSERT INTO email_verification_tokens (user_id, token_hash, email, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+verificationTokenColumns,
		userID, tokenHash, email, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to store verification token for user %s: %w", userID, err)
	}

	return token, nil
}

func (r *EmailVerificationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	return scanVerificationToken(r.pool.QueryRow(ctx,
		`SELECT `+verificationTokenColumns+` FROM email_verification_tokens WHERE token_hash = $1`,
		tokenHash))
}

// MarkAsUsed consumes a token that is still unused and unexpired at the
// database clock. ErrNotFound means another request won the race or the
// token lapsed after it was read.
func (r *EmailVerificationRepository) MarkAsUsed(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE email_verification_tokens
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL AND expires_at > NOW()
	`, id)
	if err != nil {
		return fmt.Errorf("failed to consume verification token: %w", database.MapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// GetLatestByUserID returns the newest token for a user. Its created_at
// drives the resend cooldown.
func (r *EmailVerificationRepository) GetLatestByUserID(ctx context.Context, userID string) (*models.EmailVerificationToken, error) {
	return scanVerificationToken(r.pool.QueryRow(ctx, `
		SELECT `+verificationTokenColumns+`
		FROM email_verification_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID))
}

// DeleteByUserID discards a user's outstanding links before a resend.
// Consumed tokens are left for the cleanup sweep.
func (r *EmailVerificationRepository) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM email_verification_tokens WHERE user_id = $1 AND used_at IS NULL`,
		userID)
	if err != nil {
		return fmt.Errorf("failed to discard verification tokens: %w", database.MapPostgresError(err))
	}

	return nil
}

// CleanupExpired removes consumed tokens, tokens past expiry, and tokens
// whose account is already verified.
func (r *EmailVerificationRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM email_verification_tokens t
		USING users u
		WHERE u.id = t.user_id
		  AND (t.used_at IS NOT NULL OR t.expires_at <= NOW() OR u.email_verified_at IS NOT NULL)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep verification tokens: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}
