package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
)

type Repository interface {
	// Get reads without locking; callers that already hold a child row lock
	// use it to avoid inverting the project-first lock order.
	Get(ctx context.Context, tx pgx.Tx, id string) (Project, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Project, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const projectColumns = `id::text, client_id::text, title, status, created_at, updated_at`

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id string) (Project, error) {
	return r.get(ctx, tx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error) {
	return r.get(ctx, tx, `SELECT `+projectColumns+` FROM projects WHERE id=$1 FOR UPDATE`, id)
}

func (r *PGRepository) get(ctx context.Context, tx pgx.Tx, query, id string) (Project, error) {
	p, err := scanProject(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, apperr.NotFound(Entity, id)
	}
	return p, err
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Project, error) {
	row := tx.QueryRow(ctx, `
        UPDATE projects SET status=$2, updated_at=now()
        WHERE id=$1
        RETURNING `+projectColumns, id, status)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, apperr.NotFound(Entity, id)
	}
	return p, err
}

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.ClientID, &p.Title, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, err
		}
		return Project{}, fmt.Errorf("project: scan: %w", err)
	}
	return p, nil
}
