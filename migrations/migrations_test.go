package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerRow struct{ done bool }

func (r ledgerRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = r.done
	return nil
}

type fakeTx struct {
	pgx.Tx
	db        *fakeDB
	committed bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.db.failOn != "" && strings.Contains(sql, t.db.failOn) {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		t.db.pending = append(t.db.pending, args[0].(string))
	}
	t.db.execs = append(t.db.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	return ledgerRow{done: t.db.ledger[args[0].(string)]}
}

func (t *fakeTx) Commit(context.Context) error {
	for _, n := range t.db.pending {
		t.db.ledger[n] = true
	}
	t.db.pending = nil
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.db.pending = nil
	}
	return nil
}

type fakeDB struct {
	ledger  map[string]bool
	pending []string
	execs   []string
	failOn  string
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{db: d}, nil
}

func TestNamesAreOrdered(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_engagement.sql", names[0])
}

func TestApplyRecordsAndSkips(t *testing.T) {
	d := &fakeDB{ledger: map[string]bool{}}

	applied, err := Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Contains(t, applied, "0001_engagement.sql")
	assert.True(t, d.ledger["0001_engagement.sql"])
	assert.Contains(t, d.execs[0], "schema_migrations")

	again, err := Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestApplyStopsOnFailure(t *testing.T) {
	d := &fakeDB{ledger: map[string]bool{}, failOn: "CREATE TABLE IF NOT EXISTS users"}

	_, err := Apply(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply 0001_engagement.sql")
	assert.False(t, d.ledger["0001_engagement.sql"])
}
