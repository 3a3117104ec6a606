package database

import (
	"context"
	"errors"

	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repositories care about.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgNotNullViolation     = "23502"
	pgInvalidText          = "22P02"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// MapPostgresError translates driver errors into model sentinels. A
// malformed account id is reported as not found, the same as an unknown one.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
		return models.ErrConflict
	case pgForeignKeyViolation, pgNotNullViolation:
		return models.ErrBadRequest
	case pgInvalidText:
		return models.ErrNotFound
	default:
		return err
	}
}

// WithTransaction runs fn in a transaction that commits when fn returns nil
// and rolls back otherwise, including on panic.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.Pool, fn)
}
