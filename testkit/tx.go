// Package testkit provides in-memory stand-ins for the postgres-backed
// repositories and side-effect sinks so lifecycle services can be exercised
// without a database.
package testkit

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out transactions over a Store. Transactions are serialized and
// a transaction that ends without Commit restores the store snapshot taken at
// Begin.
type Pool struct {
	store    *Store
	mu       sync.Mutex
	BeginErr error
	Begun    int
}

func NewPool(store *Store) *Pool {
	return &Pool{store: store}
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.mu.Lock()
	p.Begun++
	return &Tx{pool: p, snapshot: p.store.snapshot()}, nil
}

type Tx struct {
	pool       *Pool
	snapshot   *Store
	done       bool
	Committed  bool
	RolledBack bool
}

func (t *Tx) finish() {
	if !t.done {
		t.done = true
		t.pool.mu.Unlock()
	}
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("testkit: nested transactions not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if t.pool.store.CommitErr != nil {
		t.pool.store.restore(t.snapshot)
		t.finish()
		return t.pool.store.CommitErr
	}
	t.Committed = true
	t.finish()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.pool.store.restore(t.snapshot)
	t.RolledBack = true
	t.finish()
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}
