//go:build integration

package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/BradenHooton/ledgerguard/internal/models"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("ledgerguard"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Goose needs a database/sql handle
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	err = database.Migrate(ctx, sqlDB)
	sqlDB.Close()
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `TRUNCATE TABLE audit_logs, password_reset_tokens, email_verification_tokens, revoked_tokens, users CASCADE`)
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}

// SeedUser inserts an active account with the given password.
func SeedUser(ctx context.Context, pool *pgxpool.Pool, email, password string, verified bool) (*models.User, error) {
	hashedPassword, err := pkgauth.NewBcryptHasher(4).Hash(password)
	if err != nil {
		return nil, err
	}
	tokenKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return nil, err
	}

	var verifiedAt *time.Time
	if verified {
		now := time.Now()
		verifiedAt = &now
	}

	user := &models.User{Email: pkgauth.NormalizeEmail(email), Status: models.AccountStatusActive}
	err = pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, name, token_key, email_verified_at)
		VALUES ($1, $2, 'Test User', $3, $4)
		RETURNING id`,
		user.Email, hashedPassword, tokenKey, verifiedAt,
	).Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// SetStatus writes a raw status value, including ones the API would reject.
func SetStatus(ctx context.Context, pool *pgxpool.Pool, userID, status string) error {
	_, err := pool.Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, userID, status)
	return err
}

// FailedAttempts reads the stored counter and lock for an account.
func FailedAttempts(ctx context.Context, pool *pgxpool.Pool, userID string) (int, *time.Time, error) {
	var attempts int
	var lockedUntil *time.Time
	err := pool.QueryRow(ctx, `SELECT failed_login_attempts, locked_until FROM users WHERE id = $1`, userID).
		Scan(&attempts, &lockedUntil)
	return attempts, lockedUntil, err
}
