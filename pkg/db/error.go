package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ErrStorageUnavailable is the only storage failure callers ever see; driver
// details stay in the logs.
var ErrStorageUnavailable = errors.New("storage_error")

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasSQLState(err, pgUniqueViolation) {
		return true
	}

	msg := err.Error()
	// PostgreSQL
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// MySQL (1062)
	if strings.Contains(msg, "Error 1062") {
		return true
	}
	// SQLite (2067)
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsLockTimeout reports lock_not_available failures (NOWAIT / lock_timeout).
func IsLockTimeout(err error) bool {
	return hasSQLState(err, pgLockNotAvailable)
}

// IsSerializationFailure reports serialization and deadlock aborts.
func IsSerializationFailure(err error) bool {
	return hasSQLState(err, pgSerializationFailure) || hasSQLState(err, pgDeadlockDetected)
}

// IsRetryable reports whether retrying the whole transaction may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsLockTimeout(err) || IsSerializationFailure(err) {
		return true
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsStorageErr reports whether err came from the database layer rather than
// from business validation.
func IsStorageErr(err error) bool {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return true
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr)
}

type storageError struct {
	cause error
}

func (e *storageError) Error() string        { return ErrStorageUnavailable.Error() }
func (e *storageError) Unwrap() error        { return e.cause }
func (e *storageError) Is(target error) bool { return target == ErrStorageUnavailable }

// StorageError collapses a driver failure into ErrStorageUnavailable. The
// message is always generic; the cause stays reachable through Unwrap for
// logging.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &storageError{cause: err}
}

func hasSQLState(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}
