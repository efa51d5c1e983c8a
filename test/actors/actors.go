package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"engageflow/app"
	"engageflow/apperr"
	"engageflow/milestone"
	"engageflow/outbox"
)

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(minMS, spreadMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(spreadMS)) * time.Millisecond)
}

// TolerateDisconnects is set when chaos kills backends; untyped errors are
// then counted in Disconnects instead of failing the run.
var (
	TolerateDisconnects bool
	Disconnects         atomic.Int64
)

// expected filters the typed lifecycle failures that contention produces.
// Anything else is a real error.
func expected(err error) bool {
	if err == nil {
		return true
	}
	if _, typed := apperr.KindOf(err); typed || errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57P01" {
		Disconnects.Add(1)
		return true
	}
	if TolerateDisconnects {
		Disconnects.Add(1)
		return true
	}
	return false
}

// Acceptor races the project client to accept one of the competing proposals.
// At most one acceptance per project may win.
func Acceptor(ctx context.Context, a *app.App, clientID string, proposalIDs []string, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		id := proposalIDs[rand.Intn(len(proposalIDs))]
		accepted, err := a.Proposals.Accept(ctx, id, clientID)
		if !expected(err) {
			return fmt.Errorf("accept %s: %w", id, err)
		}
		if err == nil {
			c := accepted.Contract.Contract
			if _, err := a.Contracts.Accept(ctx, c.ID, c.FreelancerID); !expected(err) {
				return fmt.Errorf("accept contract %s: %w", c.ID, err)
			}
		}
		pause(5, 20)
	}
	return nil
}

// MilestoneDriver pushes every milestone of every active contract forward
// one step at a time, from many goroutines at once.
func MilestoneDriver(ctx context.Context, pool *pgxpool.Pool, a *app.App, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var (
			id, freelancerID string
			status           milestone.Status
		)
		err := pool.QueryRow(ctx, `
            SELECT m.id::text, c.freelancer_id::text, m.status
            FROM milestones m JOIN contracts c ON c.id = m.contract_id
            WHERE c.status = 'active' AND m.status IN ('pending', 'in_progress')
            ORDER BY random() LIMIT 1`).Scan(&id, &freelancerID, &status)
		if err != nil {
			pause(20, 40)
			continue
		}
		next := milestone.StatusInProgress
		if status == milestone.StatusInProgress {
			next = milestone.StatusCompleted
		}
		if _, err := a.Milestones.UpdateStatus(ctx, id, freelancerID, next); !expected(err) {
			return fmt.Errorf("milestone %s -> %s: %w", id, next, err)
		}
		pause(5, 15)
	}
	return nil
}

// Payer files, approves and processes payment requests for completed
// milestones. Duplicate filing is deliberate.
func Payer(ctx context.Context, pool *pgxpool.Pool, a *app.App, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		var contractID, milestoneID, freelancerID, clientID string
		err := pool.QueryRow(ctx, `
            SELECT c.id::text, m.id::text, c.freelancer_id::text, c.client_id::text
            FROM milestones m JOIN contracts c ON c.id = m.contract_id
            WHERE c.status = 'active' AND m.status = 'completed'
            ORDER BY random() LIMIT 1`).Scan(&contractID, &milestoneID, &freelancerID, &clientID)
		if err != nil {
			pause(20, 40)
			continue
		}
		req, err := a.Payments.Create(ctx, contractID, milestoneID, freelancerID, decimal.Zero)
		if !expected(err) {
			return fmt.Errorf("request payment %s: %w", milestoneID, err)
		}
		if err != nil {
			continue
		}
		if _, err := a.Payments.Approve(ctx, req.ID, clientID); !expected(err) {
			return fmt.Errorf("approve %s: %w", req.ID, err)
		}
		if _, err := a.Payments.Process(ctx, req.ID, "stress", "gw-"+req.ID[:8]); !expected(err) {
			return fmt.Errorf("process %s: %w", req.ID, err)
		}
		pause(10, 30)
	}
	return nil
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, []byte) error {
	if rand.Intn(10) == 0 {
		return errors.New("broker hiccup")
	}
	return nil
}

// Relay drains the outbox with a publisher that fails one message in ten.
// Several relays run at once and must never publish a row twice.
func Relay(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	relay := outbox.NewRelay(outbox.NewPGStore(pool), discardPublisher{}, 10, 100*time.Millisecond, nil)
	for !stopped(ctx, stop) {
		if _, err := relay.RunOnce(ctx); err != nil && ctx.Err() == nil {
			pause(50, 50)
		}
		pause(50, 50)
	}
	return nil
}
