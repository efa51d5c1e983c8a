package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engageflow/event"
)

type execTx struct {
	pgx.Tx
	sql  string
	args []any
	err  error
}

func (t *execTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.sql = sql
	t.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), t.err
}

func TestWriterEnqueue(t *testing.T) {
	tx := &execTx{}
	at := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	err := NewWriter().Enqueue(context.Background(), tx, event.Event{
		Type:        event.ContractCreated,
		AggregateID: "c-1",
		Payload:     map[string]any{"contract_id": "c-1", "milestone_count": 3},
		OccurredAt:  at,
	})
	require.NoError(t, err)

	assert.Contains(t, tx.sql, "INSERT INTO outbox")
	require.Len(t, tx.args, 4)
	assert.Equal(t, "contract.created", tx.args[0])
	assert.Equal(t, "c-1", tx.args[1])
	assert.Equal(t, at, tx.args[3])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(tx.args[2].([]byte), &payload))
	assert.Equal(t, "c-1", payload["contract_id"])
	assert.EqualValues(t, 3, payload["milestone_count"])
}

func TestWriterEnqueueDefaultsOccurredAt(t *testing.T) {
	tx := &execTx{}
	before := time.Now()

	require.NoError(t, NewWriter().Enqueue(context.Background(), tx, event.Event{Type: event.ProjectStarted, AggregateID: "p-1"}))
	occurred, ok := tx.args[3].(time.Time)
	require.True(t, ok)
	assert.False(t, occurred.Before(before))
}

func TestWriterEnqueueError(t *testing.T) {
	tx := &execTx{err: errors.New("relation \"outbox\" does not exist")}

	err := NewWriter().Enqueue(context.Background(), tx, event.Event{Type: event.ProjectStarted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox: enqueue")
}
