package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/lifecycle"
)

// Postgres SQLSTATE codes worth special-casing.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
)

// classify wraps retryable infrastructure failures in lifecycle.TransientError
// so callers can distinguish "retry the whole operation" from domain errors.
// Domain errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransientCode(err) || errors.Is(err, context.DeadlineExceeded) {
		return &lifecycle.TransientError{Err: err}
	}
	return err
}

func isTransientCode(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeExclusionViolation
}

// IsUniqueViolation reports a duplicate-key insert, used by consumers for
// inbox dedupe.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
