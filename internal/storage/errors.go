package storage

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("concurrent modification, refresh and retry")

	ErrInvalidArgument    = errors.New("invalid argument")
	ErrCartLimitExceeded  = errors.New("cart limit exceeded")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password must be at least 8 characters and contain upper and lower case letters, a digit and a special character")
)

// ConflictError is a version check failure or a Postgres serialization abort.
// Its message is the ErrConflict text; Cause keeps the underlying error for logs.
type ConflictError struct {
	Cause error
}

func (e *ConflictError) Error() string {
	return ErrConflict.Error()
}

func (e *ConflictError) Unwrap() []error {
	return []error{ErrConflict, e.Cause}
}
