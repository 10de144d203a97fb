package postgres_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/bulkgen/internal/platform/postgres"
	"github.com/phrazzld/bulkgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "job_items",
		ColumnName:     "name",
		ConstraintName: "job_items_pkey",
	}
}

func TestMapError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		notFound error
		want     error
	}{
		{name: "no rows generic", err: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "no rows specific", err: sql.ErrNoRows, notFound: store.ErrJobNotFound, want: store.ErrJobNotFound},
		{name: "unique violation", err: newPgError("23505"), want: store.ErrDuplicate},
		{name: "foreign key violation", err: newPgError("23503"), want: store.ErrInvalidEntity},
		{name: "check violation", err: newPgError("23514"), want: store.ErrInvalidEntity},
		{name: "not null violation", err: newPgError("23502"), want: store.ErrInvalidEntity},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := postgres.MapError(tc.err, tc.notFound)

			assert.ErrorIs(t, got, tc.want)
			assert.ErrorIs(t, got, tc.err, "original error should stay in the chain")
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, postgres.MapError(nil, store.ErrJobNotFound))
	})

	t.Run("unmapped", func(t *testing.T) {
		plain := errors.New("connection reset")
		assert.Same(t, plain, postgres.MapError(plain, nil))
		other := newPgError("40001")
		assert.Equal(t, error(other), postgres.MapError(other, nil))
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23503")))
	assert.False(t, postgres.IsUniqueViolation(errors.New("23505")))
	assert.False(t, postgres.IsUniqueViolation(nil))
}

func TestCheckRowsAffected(t *testing.T) {
	assert.NoError(t, postgres.CheckRowsAffected(sqlmock.NewResult(0, 1), store.ErrJobNotFound))

	err := postgres.CheckRowsAffected(sqlmock.NewResult(0, 0), store.ErrJobNotFound)
	assert.ErrorIs(t, err, store.ErrJobNotFound)

	err = postgres.CheckRowsAffected(sqlmock.NewErrorResult(errors.New("driver gone")), store.ErrJobNotFound)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get rows affected")

	assert.Error(t, postgres.CheckRowsAffected(nil, store.ErrJobNotFound))
}
