package app

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engageflow/config"
	"engageflow/logger"
	"engageflow/proposal"
)

type unreachableDB struct {
	begins int
}

var errUnreachable = errors.New("database unreachable")

func (d *unreachableDB) Begin(context.Context) (pgx.Tx, error) {
	d.begins++
	return nil, errUnreachable
}

func (d *unreachableDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnreachable
}

func (d *unreachableDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestNewWiresEveryService(t *testing.T) {
	a := New(&unreachableDB{}, Options{
		Engagement: config.EngagementConfig{DefaultCurrency: "EUR", AbsorbRoundingResidue: true},
		Log:        logger.NewTestLogger(t),
	})

	assert.NotNil(t, a.Runner)
	assert.NotNil(t, a.Factory)
	assert.NotNil(t, a.Cascade)
	assert.NotNil(t, a.Proposals)
	assert.NotNil(t, a.Contracts)
	assert.NotNil(t, a.Milestones)
	assert.NotNil(t, a.Payments)
}

func TestServicesRunOnTheGivenDatabase(t *testing.T) {
	database := &unreachableDB{}
	a := New(database, Options{})
	ctx := context.Background()

	_, err := a.Proposals.Submit(ctx, "proj-1", "free-1", proposal.SubmitParams{Amount: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, errUnreachable)
	_, err = a.Contracts.Complete(ctx, "c-1", "client-1")
	require.ErrorIs(t, err, errUnreachable)
	_, err = a.Payments.Approve(ctx, "r-1", "client-1")
	require.ErrorIs(t, err, errUnreachable)
	_, err = a.Cascade.Recheck(ctx, "c-1")
	require.ErrorIs(t, err, errUnreachable)

	assert.Equal(t, 4, database.begins)
}
