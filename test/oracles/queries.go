package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns invariant probes; each must return zero rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_accepted_proposal_per_project",
			SQL: `SELECT project_id, COUNT(*) FROM proposals
                  WHERE status = 'accepted'
                  GROUP BY project_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_accepted_project_has_no_pending_bids",
			SQL: `SELECT p.id FROM proposals p
                  WHERE p.status = 'pending'
                    AND EXISTS (SELECT 1 FROM proposals a WHERE a.project_id = p.project_id AND a.status = 'accepted')`,
		},
		{
			Name: "O3_contract_per_accepted_proposal",
			SQL: `SELECT p.id FROM proposals p
                  LEFT JOIN contracts c ON c.proposal_id = p.id
                  WHERE (p.status = 'accepted') <> (c.id IS NOT NULL)`,
		},
		{
			Name: "O4_schedule_sums_to_contract",
			SQL: `SELECT c.id, c.amount, SUM(m.amount) FROM contracts c
                  JOIN milestones m ON m.contract_id = c.id
                  GROUP BY c.id, c.amount
                  HAVING SUM(m.amount) <> c.amount`,
		},
		{
			Name: "O5_contiguous_order_index",
			SQL: `SELECT contract_id FROM milestones
                  GROUP BY contract_id
                  HAVING MIN(order_index) <> 1 OR MAX(order_index) <> COUNT(*) OR COUNT(DISTINCT order_index) <> COUNT(*)`,
		},
		{
			Name: "O6_paid_only_through_processing",
			SQL: `SELECT m.id FROM milestones m
                  LEFT JOIN payment_requests r ON r.milestone_id = m.id AND r.status = 'paid'
                  LEFT JOIN transactions t ON t.payment_request_id = r.id
                  WHERE m.status = 'paid' AND (r.id IS NULL OR t.id IS NULL)`,
		},
		{
			Name: "O7_requests_only_for_completed_work",
			SQL: `SELECT r.id FROM payment_requests r
                  JOIN milestones m ON m.id = r.milestone_id
                  WHERE m.status NOT IN ('completed', 'paid')`,
		},
		{
			Name: "O8_cascade_complete",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status = 'active'
                    AND EXISTS (SELECT 1 FROM milestones m WHERE m.contract_id = c.id)
                    AND NOT EXISTS (SELECT 1 FROM milestones m WHERE m.contract_id = c.id AND m.status <> 'completed')`,
		},
		{
			Name: "O9_single_channel_per_pair",
			SQL: `SELECT project_id, client_id, freelancer_id FROM conversations
                  GROUP BY project_id, client_id, freelancer_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O10_outbox_published_once",
			SQL: `SELECT id FROM outbox WHERE published_at IS NOT NULL AND attempts < 1`,
		},
		{
			Name: "O11_transactions_append_only",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'transactions_no_update')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
