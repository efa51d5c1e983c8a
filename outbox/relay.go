package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/db"
	"engageflow/logger"
	"engageflow/metrics"
)

// Store claims unpublished outbox rows and records delivery results.
type Store interface {
	ProcessBatch(ctx context.Context, limit int, deliver func(ctx context.Context, m Message) error) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type PGStore struct {
	pool db.TxBeginner
}

func NewPGStore(pool db.TxBeginner) *PGStore {
	return &PGStore{pool: pool}
}

// ProcessBatch claims up to limit rows with SKIP LOCKED so several relays can
// run side by side, delivers each and commits the outcome.
func (s *PGStore) ProcessBatch(ctx context.Context, limit int, deliver func(ctx context.Context, m Message) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
        SELECT id, topic, COALESCE(aggregate_id, ''), payload, occurred_at, attempts
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim: %w", err)
	}
	var batch []Message
	for rows.Next() {
		var (
			m    Message
			body []byte
		)
		if err := rows.Scan(&m.ID, &m.Type, &m.AggregateID, &body, &m.OccurredAt, &m.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan: %w", err)
		}
		if err := json.Unmarshal(body, &m.Payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: decode payload %d: %w", m.ID, err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: claim rows: %w", err)
	}

	published := 0
	for _, m := range batch {
		if derr := deliver(ctx, m); derr != nil {
			if err := markFailed(ctx, tx, m.ID, derr); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at=now(), attempts=attempts+1, last_error=NULL WHERE id=$1`, m.ID); err != nil {
			return 0, fmt.Errorf("outbox: mark published: %w", err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit: %w", err)
	}
	return published, nil
}

func markFailed(ctx context.Context, tx pgx.Tx, id int64, cause error) error {
	if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_error=$2 WHERE id=$1`, id, cause.Error()); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

// Relay moves committed events from the outbox to the broker.
type Relay struct {
	store     Store
	publisher Publisher
	batchSize int
	interval  time.Duration
	log       logger.Logger
}

func NewRelay(store Store, publisher Publisher, batchSize int, interval time.Duration, log logger.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Relay{store: store, publisher: publisher, batchSize: batchSize, interval: interval, log: log}
}

func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	return r.store.ProcessBatch(ctx, r.batchSize, func(ctx context.Context, m Message) error {
		body, err := json.Marshal(m)
		if err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			return fmt.Errorf("outbox: marshal message: %w", err)
		}
		if err := r.publisher.Publish(ctx, m.Type, body); err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			r.log.WithError(err).Warn("outbox publish failed", map[string]interface{}{
				"outbox_id": m.ID,
				"topic":     m.Type,
				"attempts":  m.Attempts + 1,
			})
			return err
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		return nil
	})
}

// Run drains the outbox until ctx is cancelled. A full batch is followed
// immediately by another poll.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.WithError(err).Error("outbox relay batch failed", nil)
		}
		if err == nil && n >= r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
