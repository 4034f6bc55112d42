// Package txtest provides a fake transaction source for unit tests of code
// built on repository.WithTx. Repositories are faked separately, so the Tx
// only needs to record how the unit of work ended.
package txtest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB implements repository.TxBeginner.
type DB struct {
	mu        sync.Mutex
	Begins    int
	Commits   int
	Rollbacks int
	Execs     []string

	// BeginErr and CommitErr, when set, are returned by Begin and Commit.
	BeginErr  error
	CommitErr error
}

func (d *DB) Begin(context.Context) (pgx.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	d.Begins++
	return &Tx{db: d}, nil
}

func (d *DB) Counts() (begins, commits, rollbacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Begins, d.Commits, d.Rollbacks
}

// Tx satisfies pgx.Tx; only Commit, Rollback and Exec do anything.
type Tx struct {
	db   *DB
	done bool
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *Tx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if t.db.CommitErr != nil {
		t.db.Rollbacks++
		return t.db.CommitErr
	}
	t.db.Commits++
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.Rollbacks++
	return nil
}

func (t *Tx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Execs = append(t.db.Execs, sql)
	return pgconn.NewCommandTag(""), nil
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Conn() *pgx.Conn { return nil }
