package event

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"engageflow/db"
)

// Work is the transactional body of a lifecycle operation. It returns the
// events the operation produced.
type Work func(ctx context.Context, tx pgx.Tx) ([]Event, error)

// Runner executes one lifecycle operation as a unit of work: begin, run,
// write the events to the outbox, commit, then dispatch side effects.
type Runner struct {
	pool       db.TxBeginner
	outbox     OutboxWriter
	dispatcher *Dispatcher
}

func NewRunner(pool db.TxBeginner, outbox OutboxWriter, dispatcher *Dispatcher) *Runner {
	return &Runner{pool: pool, outbox: outbox, dispatcher: dispatcher}
}

// Run returns the work's error untouched so typed failures reach the caller.
// A dispatch error after commit is returned wrapped; the state change stays.
func (r *Runner) Run(ctx context.Context, work Work) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("event: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	workCtx, transitions := withTransitionLog(ctx)
	events, err := work(workCtx, tx)
	if err != nil {
		return err
	}

	if r.outbox != nil {
		for _, evt := range events {
			if err := r.outbox.Enqueue(ctx, tx, evt); err != nil {
				return fmt.Errorf("event: enqueue %s: %w", evt.Type, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("event: commit tx: %w", err)
	}
	transitions.observe()

	if r.dispatcher == nil || len(events) == 0 {
		return nil
	}
	return r.dispatcher.Dispatch(ctx, events)
}
