package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
	"engageflow/db"
)

var ErrDuplicate = errors.New("payment: request already exists for milestone")

type Repository interface {
	CreateRequest(ctx context.Context, tx pgx.Tx, r Request) (Request, error)
	ExistsForMilestone(ctx context.Context, tx pgx.Tx, milestoneID string) (bool, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time, reason *string) (Request, error)
	InsertTransaction(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const requestColumns = `id::text, contract_id::text, milestone_id::text, freelancer_id::text, client_id::text,
    amount::text, currency, status, requested_at, approved_at, paid_at, rejection_reason, updated_at`

func (r *PGRepository) CreateRequest(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	row := tx.QueryRow(ctx, `
        INSERT INTO payment_requests (id, contract_id, milestone_id, freelancer_id, client_id, amount, currency, status, requested_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
        RETURNING `+requestColumns,
		req.ID, req.ContractID, req.MilestoneID, req.FreelancerID, req.ClientID,
		req.Amount.String(), req.Currency, req.Status, req.RequestedAt)
	created, err := scanRequest(row)
	if db.IsUniqueViolation(err, "payment_requests_milestone_id_key") {
		return Request{}, ErrDuplicate
	}
	return created, err
}

func (r *PGRepository) ExistsForMilestone(ctx context.Context, tx pgx.Tx, milestoneID string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_requests WHERE milestone_id=$1)`, milestoneID).Scan(&exists); err != nil {
		return false, fmt.Errorf("payment: exists for milestone: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM payment_requests WHERE id=$1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, apperr.NotFound(Entity, id)
	}
	return req, err
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, at time.Time, reason *string) (Request, error) {
	row := tx.QueryRow(ctx, `
        UPDATE payment_requests
        SET status=$2,
            approved_at=CASE WHEN $2='approved' THEN $3 ELSE approved_at END,
            paid_at=CASE WHEN $2='paid' THEN $3 ELSE paid_at END,
            rejection_reason=COALESCE($4, rejection_reason),
            updated_at=$3
        WHERE id=$1
        RETURNING `+requestColumns, id, status, at, reason)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, apperr.NotFound(Entity, id)
	}
	return req, err
}

func (r *PGRepository) InsertTransaction(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	err := tx.QueryRow(ctx, `
        INSERT INTO transactions (id, contract_id, payment_request_id, amount, currency, status,
            payment_method, gateway_transaction_id, created_at, completed_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
        RETURNING created_at, completed_at`,
		t.ID, t.ContractID, t.PaymentRequestID, t.Amount.String(), t.Currency, t.Status,
		t.PaymentMethod, t.GatewayTransactionID, t.CreatedAt, t.CompletedAt).
		Scan(&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("payment: insert transaction: %w", err)
	}
	return t, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	err := row.Scan(&r.ID, &r.ContractID, &r.MilestoneID, &r.FreelancerID, &r.ClientID,
		&r.Amount, &r.Currency, &r.Status, &r.RequestedAt, &r.ApprovedAt, &r.PaidAt, &r.RejectionReason, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, err
		}
		return Request{}, fmt.Errorf("payment: scan: %w", err)
	}
	return r, nil
}
