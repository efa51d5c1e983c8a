package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
	"engageflow/db"
)

var ErrDuplicate = errors.New("proposal: duplicate for project and freelancer")

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error)
	Get(ctx context.Context, tx pgx.Tx, id string) (Proposal, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proposal, error)
	ListPendingByProject(ctx context.Context, tx pgx.Tx, projectID string) ([]Proposal, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Proposal, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const proposalColumns = `id::text, project_id::text, freelancer_id::text, client_id::text, title, description,
    cover_letter, amount::text, currency, estimated_duration, status, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error) {
	row := tx.QueryRow(ctx, `
        INSERT INTO proposals (id, project_id, freelancer_id, client_id, title, description, cover_letter,
            amount, currency, estimated_duration, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11)
        RETURNING `+proposalColumns,
		p.ID, p.ProjectID, p.FreelancerID, p.ClientID, p.Title, p.Description, p.CoverLetter,
		p.Amount.String(), p.Currency, p.EstimatedDuration, p.Status)
	created, err := scanProposal(row)
	if db.IsUniqueViolation(err, "proposals_project_id_freelancer_id_key") {
		return Proposal{}, ErrDuplicate
	}
	return created, err
}

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id string) (Proposal, error) {
	return r.get(ctx, tx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proposal, error) {
	return r.get(ctx, tx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, query, id string) (Proposal, error) {
	p, err := scanProposal(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, apperr.NotFound(Entity, id)
	}
	return p, err
}

func (r *PGRepository) ListPendingByProject(ctx context.Context, tx pgx.Tx, projectID string) ([]Proposal, error) {
	rows, err := tx.Query(ctx, `
        SELECT `+proposalColumns+`
        FROM proposals
        WHERE project_id=$1 AND status='pending'
        ORDER BY created_at, id
        FOR UPDATE`, projectID)
	if err != nil {
		return nil, fmt.Errorf("proposal: list pending: %w", err)
	}
	defer rows.Close()

	var out []Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: list pending rows: %w", err)
	}
	return out, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Proposal, error) {
	row := tx.QueryRow(ctx, `
        UPDATE proposals SET status=$2, updated_at=now()
        WHERE id=$1
        RETURNING `+proposalColumns, id, status)
	p, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, apperr.NotFound(Entity, id)
	}
	return p, err
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	err := row.Scan(&p.ID, &p.ProjectID, &p.FreelancerID, &p.ClientID, &p.Title, &p.Description,
		&p.CoverLetter, &p.Amount, &p.Currency, &p.EstimatedDuration, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, err
		}
		return Proposal{}, fmt.Errorf("proposal: scan: %w", err)
	}
	return p, nil
}
