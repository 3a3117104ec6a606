package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, name, role, status, failed_login_attempts, locked_until,
	email_verified_at, last_login_at, last_login_ip, token_key, password_changed_at, deleted_at,
	created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// FailedLoginResult is the account counter state after a failed attempt.
type FailedLoginResult struct {
	Attempts    int
	LockedUntil *time.Time
	JustLocked  bool // This attempt crossed the threshold
}

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var status string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Role, &status,
		&user.FailedLoginAttempts, &user.LockedUntil,
		&user.EmailVerifiedAt, &user.LastLoginAt, &user.LastLoginIP,
		&user.TokenKey, &user.PasswordChangedAt, &user.DeletedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.Status = models.ParseAccountStatus(status)
	return &user, nil
}

// scanUserRows iterates through rows and scans each into User models
func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail expects an already normalized address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`

	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	return scanUserRows(rows)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	user.TokenKey = tokenKey

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = "user"
	}

	if user.Status == "" {
		user.Status = models.AccountStatusActive
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, role, status, email_verified_at, token_key, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Role, string(user.Status),
		user.EmailVerifiedAt, user.TokenKey, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

// IncrementFailedLogins counts a failed attempt and, in the same statement,
// locks the account until lockUntil once the count reaches threshold.
// A lock that has already expired starts a fresh count.
func (r *UserRepository) IncrementFailedLogins(ctx context.Context, id string, threshold int, now, lockUntil time.Time) (*FailedLoginResult, error) {
	// Postgres stores microseconds; truncate so the returned value compares equal.
	lockUntil = lockUntil.Truncate(time.Microsecond)

	query := `
		UPDATE users SET
			failed_login_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $3 THEN 1
				ELSE failed_login_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until > $3 THEN locked_until
				WHEN (CASE
					WHEN locked_until IS NOT NULL AND locked_until <= $3 THEN 1
					ELSE failed_login_attempts + 1
				END) >= $2 THEN $4
				ELSE NULL
			END,
			updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING failed_login_attempts, locked_until
	`

	var result FailedLoginResult
	err := r.pool.QueryRow(ctx, query, id, threshold, now, lockUntil).Scan(&result.Attempts, &result.LockedUntil)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	result.JustLocked = result.LockedUntil != nil && result.LockedUntil.Equal(lockUntil)
	return &result, nil
}

// RecordSuccessfulLogin clears the failure counter and any lock.
func (r *UserRepository) RecordSuccessfulLogin(ctx context.Context, id, ipAddress string, at time.Time) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = $2, last_login_ip = $3, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	var ip *string
	if ipAddress != "" {
		ip = &ipAddress
	}

	result, err := r.pool.Exec(ctx, query, id, at, ip)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status models.AccountStatus) (*models.User, error) {
	query := `
		UPDATE users SET status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id, string(status)))
}

// Unlock lifts a lock and resets the failure counter.
func (r *UserRepository) Unlock(ctx context.Context, id string) (*models.User, error) {
	query := `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// UpdatePassword stores a new hash, rotates the token key so every existing
// session dies, and clears any lockout.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return fmt.Errorf("failed to generate token key: %w", err)
	}

	query := `
		UPDATE users
		SET password_hash = $2, token_key = $3, password_changed_at = $4,
			failed_login_attempts = 0, locked_until = NULL, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, passwordHash, tokenKey, changedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE users SET email_verified_at = COALESCE(email_verified_at, $2), updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RotateTokenKey invalidates every token signed with the previous key.
func (r *UserRepository) RotateTokenKey(ctx context.Context, id string) error {
	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return fmt.Errorf("failed to generate token key: %w", err)
	}

	query := `UPDATE users SET token_key = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, tokenKey)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SoftDelete hides the account from every lookup. Rows are never removed.
func (r *UserRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE users SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
