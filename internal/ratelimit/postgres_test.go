// internal/ratelimit/postgres_test.go
package ratelimit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprint-assistant/internal/common/database"
	"sprint-assistant/internal/common/errors"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresStore(&database.PostgresClient{DB: db}), mock
}

func TestPostgresEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rate_limit_buckets").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTakeAllowed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO rate_limit_buckets").
		WithArgs("user-1", "interpret", 5.0, 1.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("WITH refilled AS").
		WithArgs("user-1", "interpret", 5.0, 1.0).
		WillReturnRows(sqlmock.NewRows([]string{"allowed", "remaining"}).AddRow(true, 4.0))

	allowed, remaining, err := store.Take(context.Background(), "user-1", "interpret", 5, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 4.0, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTakeDenied(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO rate_limit_buckets").
		WithArgs("user-1", "act", 2.0, 0.5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("WITH refilled AS").
		WithArgs("user-1", "act", 2.0, 0.5).
		WillReturnRows(sqlmock.NewRows([]string{"allowed", "remaining"}).AddRow(false, 0.25))

	allowed, remaining, err := store.Take(context.Background(), "user-1", "act", 2, 0.5)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0.25, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTakeSeedFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO rate_limit_buckets").
		WillReturnError(assert.AnError)

	_, _, err := store.Take(context.Background(), "user-1", "interpret", 5, 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDatabaseError, errors.From(err).Code)
}

func TestPostgresTakeQueryFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO rate_limit_buckets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("WITH refilled AS").
		WillReturnError(assert.AnError)

	_, _, err := store.Take(context.Background(), "user-1", "interpret", 5, 1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDatabaseError, errors.From(err).Code)
}
