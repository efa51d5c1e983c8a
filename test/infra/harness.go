package infra

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"engageflow/app"
	"engageflow/config"
	"engageflow/logger"
)

// Harness owns a migrated database and the engagement services bound to it.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	app       *app.App
}

// NewHarness starts (or reuses, see DSNEnv) a Postgres, applies the schema in
// an isolated search path and wires the services.
func NewHarness(ctx context.Context, dsn string, log logger.Logger) (*Harness, error) {
	container, dsn, err := StartPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, true)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	h := &Harness{
		container: container,
		pool:      pool,
		teardown:  teardown,
	}
	h.app = app.New(pool, app.Options{
		Engagement:              config.EngagementConfig{DefaultCurrency: "USD", AbsorbRoundingResidue: true},
		BestEffortNotifications: true,
		Log:                     log,
	})
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

func (h *Harness) App() *app.App {
	return h.app
}

// Close drops the run schema and stops the container.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates every mutable table for a clean epoch.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"notifications",
		"transactions",
		"payment_requests",
		"milestones",
		"contracts",
		"conversations",
		"proposals",
		"projects",
		"users",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// The append-only trigger fires on DELETE, not TRUNCATE.
	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

// Market is one published project with competing proposals.
type Market struct {
	ProjectID   string
	ClientID    string
	Freelancers []string
	ProposalIDs []string
}

// SeedMarket inserts a client, a published project and one pending proposal
// per freelancer.
func (h *Harness) SeedMarket(ctx context.Context, freelancers int, amount, duration string) (Market, error) {
	m := Market{ProjectID: uuid.NewString(), ClientID: uuid.NewString()}
	if err := h.seedUser(ctx, m.ClientID, "client"); err != nil {
		return Market{}, err
	}
	if _, err := h.pool.Exec(ctx, `INSERT INTO projects (id, client_id, title, status) VALUES ($1, $2, $3, 'published')`,
		m.ProjectID, m.ClientID, "Stress project "+m.ProjectID[:8]); err != nil {
		return Market{}, fmt.Errorf("seed project: %w", err)
	}
	for i := 0; i < freelancers; i++ {
		freelancerID, proposalID := uuid.NewString(), uuid.NewString()
		if err := h.seedUser(ctx, freelancerID, "freelancer"); err != nil {
			return Market{}, err
		}
		if _, err := h.pool.Exec(ctx, `
            INSERT INTO proposals (id, project_id, freelancer_id, client_id, title, amount, currency, estimated_duration, status)
            VALUES ($1, $2, $3, $4, 'Stress proposal', $5::numeric, 'USD', $6, 'pending')`,
			proposalID, m.ProjectID, freelancerID, m.ClientID, amount, duration); err != nil {
			return Market{}, fmt.Errorf("seed proposal: %w", err)
		}
		m.Freelancers = append(m.Freelancers, freelancerID)
		m.ProposalIDs = append(m.ProposalIDs, proposalID)
	}
	return m, nil
}

func (h *Harness) seedUser(ctx context.Context, id, role string) error {
	if _, err := h.pool.Exec(ctx, `INSERT INTO users (id, email, role) VALUES ($1, $2, $3)`, id, id+"@stress.test", role); err != nil {
		return fmt.Errorf("seed %s: %w", role, err)
	}
	return nil
}
