package milestone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Milestone, error)
	ListByContract(ctx context.Context, tx pgx.Tx, contractID string) ([]Milestone, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time) (Milestone, error)
	ResetAll(ctx context.Context, tx pgx.Tx, contractID string) (int, error)
	Renumber(ctx context.Context, tx pgx.Tx, contractID string) error
	ContractParties(ctx context.Context, tx pgx.Tx, contractID string) (Parties, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const milestoneColumns = `id::text, contract_id::text, title, description, amount::text, status, order_index,
    due_date, completed_at, paid_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error) {
	row := tx.QueryRow(ctx, `
        INSERT INTO milestones (id, contract_id, title, description, amount, status, order_index, due_date)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
        RETURNING `+milestoneColumns,
		m.ID, m.ContractID, m.Title, m.Description, m.Amount.String(), m.Status, m.OrderIndex, m.DueDate)
	return scanMilestone(row)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Milestone, error) {
	row := tx.QueryRow(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id=$1 FOR UPDATE`, id)
	m, err := scanMilestone(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, apperr.NotFound(Entity, id)
	}
	return m, err
}

func (r *PGRepository) ListByContract(ctx context.Context, tx pgx.Tx, contractID string) ([]Milestone, error) {
	rows, err := tx.Query(ctx, `
        SELECT `+milestoneColumns+`
        FROM milestones
        WHERE contract_id=$1
        ORDER BY order_index`, contractID)
	if err != nil {
		return nil, fmt.Errorf("milestone: list: %w", err)
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: list rows: %w", err)
	}
	return out, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time) (Milestone, error) {
	row := tx.QueryRow(ctx, `
        UPDATE milestones
        SET status=$2,
            completed_at=CASE WHEN $2='completed' THEN $3 ELSE completed_at END,
            paid_at=CASE WHEN $2='paid' THEN $3 ELSE paid_at END,
            updated_at=$3
        WHERE id=$1
        RETURNING `+milestoneColumns, id, status, at)
	m, err := scanMilestone(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, apperr.NotFound(Entity, id)
	}
	return m, err
}

func (r *PGRepository) ResetAll(ctx context.Context, tx pgx.Tx, contractID string) (int, error) {
	tag, err := tx.Exec(ctx, `
        UPDATE milestones
        SET status='pending', completed_at=NULL, paid_at=NULL, updated_at=now()
        WHERE contract_id=$1`, contractID)
	if err != nil {
		return 0, fmt.Errorf("milestone: reset: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PGRepository) Renumber(ctx context.Context, tx pgx.Tx, contractID string) error {
	if _, err := tx.Exec(ctx, `
        UPDATE milestones m
        SET order_index=o.rn
        FROM (
            SELECT id, row_number() OVER (ORDER BY due_date, created_at, id) AS rn
            FROM milestones
            WHERE contract_id=$1
        ) o
        WHERE m.id=o.id AND m.order_index <> o.rn`, contractID); err != nil {
		return fmt.Errorf("milestone: renumber: %w", err)
	}
	return nil
}

func (r *PGRepository) ContractParties(ctx context.Context, tx pgx.Tx, contractID string) (Parties, error) {
	var p Parties
	err := tx.QueryRow(ctx, `
        SELECT id::text, client_id::text, freelancer_id::text, status, start_date
        FROM contracts WHERE id=$1`, contractID).
		Scan(&p.ContractID, &p.ClientID, &p.FreelancerID, &p.ContractStatus, &p.StartDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Parties{}, apperr.NotFound("contract", contractID)
	}
	if err != nil {
		return Parties{}, fmt.Errorf("milestone: contract parties: %w", err)
	}
	return p, nil
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	var m Milestone
	err := row.Scan(&m.ID, &m.ContractID, &m.Title, &m.Description, &m.Amount, &m.Status, &m.OrderIndex,
		&m.DueDate, &m.CompletedAt, &m.PaidAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, err
		}
		return Milestone{}, fmt.Errorf("milestone: scan: %w", err)
	}
	return m, nil
}
