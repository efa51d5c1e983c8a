package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
	"engageflow/db"
)

// ErrDuplicate marks an insert rejected by the one-contract-per-proposal
// constraint.
var ErrDuplicate = errors.New("contract: duplicate for proposal")

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	ExistsForProposal(ctx context.Context, tx pgx.Tx, proposalID string) (bool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error)
	ListByProject(ctx context.Context, tx pgx.Tx, projectID string) ([]Contract, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time) (Contract, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const contractColumns = `id::text, project_id::text, proposal_id::text, client_id::text, freelancer_id::text,
    title, description, amount::text, currency, status, start_date, end_date, COALESCE(channel_id::text, ''),
    completed_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	var channelID any
	if c.ChannelID != "" {
		channelID = c.ChannelID
	}
	row := tx.QueryRow(ctx, `
        INSERT INTO contracts (id, project_id, proposal_id, client_id, freelancer_id, title, description,
            amount, currency, status, start_date, end_date, channel_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13)
        RETURNING `+contractColumns,
		c.ID, c.ProjectID, c.ProposalID, c.ClientID, c.FreelancerID, c.Title, c.Description,
		c.Amount.String(), c.Currency, c.Status, c.StartDate, c.EndDate, channelID)
	created, err := scanContract(row)
	if db.IsUniqueViolation(err, "contracts_proposal_id_key") {
		return Contract{}, ErrDuplicate
	}
	return created, err
}

func (r *PGRepository) ExistsForProposal(ctx context.Context, tx pgx.Tx, proposalID string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE proposal_id=$1)`, proposalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("contract: exists for proposal: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error) {
	row := tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=$1 FOR UPDATE`, id)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, apperr.NotFound(Entity, id)
	}
	return c, err
}

func (r *PGRepository) ListByProject(ctx context.Context, tx pgx.Tx, projectID string) ([]Contract, error) {
	rows, err := tx.Query(ctx, `
        SELECT `+contractColumns+`
        FROM contracts
        WHERE project_id=$1
        ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("contract: list by project: %w", err)
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: list rows: %w", err)
	}
	return out, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time) (Contract, error) {
	row := tx.QueryRow(ctx, `
        UPDATE contracts
        SET status=$2,
            completed_at=CASE WHEN $2='completed' THEN $3 ELSE completed_at END,
            updated_at=$3
        WHERE id=$1
        RETURNING `+contractColumns, id, status, at)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, apperr.NotFound(Entity, id)
	}
	return c, err
}

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(&c.ID, &c.ProjectID, &c.ProposalID, &c.ClientID, &c.FreelancerID, &c.Title, &c.Description,
		&c.Amount, &c.Currency, &c.Status, &c.StartDate, &c.EndDate, &c.ChannelID,
		&c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, err
		}
		return Contract{}, fmt.Errorf("contract: scan: %w", err)
	}
	return c, nil
}
