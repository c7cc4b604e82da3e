package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestStorageErrorHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	err := StorageError(cause)

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, "storage_error", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
	assert.Same(t, err, StorageError(err))
}

func TestStorageErrorKeepsContextErrors(t *testing.T) {
	assert.NoError(t, StorageError(nil))
	assert.ErrorIs(t, StorageError(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, StorageError(context.DeadlineExceeded), ErrStorageUnavailable)
}

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil},
		{name: "gorm translated", err: gorm.ErrDuplicatedKey, want: true},
		{name: "pg sqlstate", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "sqlite message", err: errors.New("UNIQUE constraint failed: accounts.slug"), want: true},
		{name: "mysql message", err: errors.New("Error 1062: Duplicate entry"), want: true},
		{name: "other", err: errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryable(fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, IsLockTimeout(&pgconn.PgError{Code: "55P03"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(nil))
}
