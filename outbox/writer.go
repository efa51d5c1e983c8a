package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/event"
)

// Message is the wire form of an event as stored in the outbox and
// published to the broker.
type Message struct {
	ID          int64          `json:"-"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Attempts    int            `json:"-"`
}

// Writer enqueues events in the producing transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, evt event.Event) error {
	body, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	occurred := evt.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	const q = `INSERT INTO outbox (topic, aggregate_id, payload, occurred_at) VALUES ($1, $2, $3::jsonb, $4)`
	if _, err := tx.Exec(ctx, q, string(evt.Type), evt.AggregateID, body, occurred); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}
