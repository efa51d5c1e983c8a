package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
)

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory resolves user email addresses from the users table.
type Directory struct {
	db Querier
}

func NewDirectory(db Querier) *Directory {
	return &Directory{db: db}
}

func (d *Directory) EmailAddress(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.db.QueryRow(ctx, `SELECT email FROM users WHERE id=$1`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NotFound("user", userID)
	}
	if err != nil {
		return "", fmt.Errorf("notify: lookup email: %w", err)
	}
	return email, nil
}
