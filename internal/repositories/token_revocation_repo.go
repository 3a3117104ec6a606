package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRevocationRepository holds the jti denylist consulted on every
// authenticated request. Rows outlive their token only until the sweep.
type TokenRevocationRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{pool: db.Pool}
}

// RevokeToken denies a jti until expiresAt. The first reason recorded wins,
// so a status denial followed by a logout still reads as the denial.
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO revoked_tokens (jti, user_id, token_type, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING
	`, jti, userID, tokenType, expiresAt, reason)

	return database.MapPostgresError(err)
}

// IsTokenRevoked reports whether jti is denied. Rows past their expiry are
// ignored; the token itself no longer validates by then.
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > NOW())`,
		jti,
	).Scan(&revoked)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return revoked, nil
}

// CleanupExpiredTokens drops denylist rows for tokens that have expired.
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
