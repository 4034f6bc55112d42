package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertcredits/backend/internal/repository"
	"github.com/convertcredits/backend/internal/repository/txtest"
)

func TestWithTx_CommitsOnNil(t *testing.T) {
	db := &txtest.DB{}
	err := repository.WithTx(context.Background(), db, repository.TxOptions{LockTimeout: 5 * time.Second},
		func(context.Context, pgx.Tx) error { return nil })
	require.NoError(t, err)

	begins, commits, rollbacks := db.Counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 0, rollbacks)
	require.Len(t, db.Execs, 1)
	assert.True(t, strings.Contains(db.Execs[0], "lock_timeout = '5000ms'"), db.Execs[0])
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := &txtest.DB{}
	boom := errors.New("boom")
	err := repository.WithTx(context.Background(), db, repository.TxOptions{},
		func(context.Context, pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)

	_, commits, rollbacks := db.Counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
	assert.Empty(t, db.Execs)
}

func TestWithTx_RollsBackAndRepanics(t *testing.T) {
	db := &txtest.DB{}
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = repository.WithTx(context.Background(), db, repository.TxOptions{},
			func(context.Context, pgx.Tx) error { panic("kaboom") })
	})
	_, commits, rollbacks := db.Counts()
	assert.Equal(t, 0, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestWithTx_BeginAndCommitErrors(t *testing.T) {
	db := &txtest.DB{BeginErr: errors.New("pool closed")}
	called := false
	err := repository.WithTx(context.Background(), db, repository.TxOptions{},
		func(context.Context, pgx.Tx) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)

	db = &txtest.DB{CommitErr: errors.New("serialization failure")}
	err = repository.WithTx(context.Background(), db, repository.TxOptions{},
		func(context.Context, pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "commit tx")
}

func TestWithTx_AppliesTimeout(t *testing.T) {
	db := &txtest.DB{}
	err := repository.WithTx(context.Background(), db, repository.TxOptions{Timeout: time.Second},
		func(ctx context.Context, _ pgx.Tx) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return nil
		})
	require.NoError(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: repository.RefundActiveIndex}
	assert.True(t, repository.IsUniqueViolation(err, ""))
	assert.True(t, repository.IsUniqueViolation(err, repository.RefundActiveIndex))
	assert.False(t, repository.IsUniqueViolation(err, "other"))
	assert.False(t, repository.IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, repository.IsUniqueViolation(errors.New("x"), ""))
}
