package repository

import (
	"errors"

	"github.com/jackc/pgconn"
)

var (
	ErrObjectNotFound = errors.New("not found")
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsConflict reports whether err means the row changed underneath the caller:
// a failed version check or a serialization/deadlock abort from Postgres.
func IsConflict(err error) bool {
	if errors.Is(err, ErrOptimisticLock) {
		return true
	}
	code := pgCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == pgForeignKeyViolation
}

func IsCheckViolation(err error) bool {
	return pgCode(err) == pgCheckViolation
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
