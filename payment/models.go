package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"engageflow/apperr"
	"engageflow/event"
)

const Entity = "payment_request"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaid     Status = "paid"
)

type Request struct {
	ID              string
	ContractID      string
	MilestoneID     string
	FreelancerID    string
	ClientID        string
	Amount          decimal.Decimal
	Currency        string
	Status          Status
	RequestedAt     time.Time
	ApprovedAt      *time.Time
	PaidAt          *time.Time
	RejectionReason *string
	UpdatedAt       time.Time
}

type TransactionStatus string

const TransactionCompleted TransactionStatus = "completed"

// Transaction is the append-only record of funds moved for a request.
type Transaction struct {
	ID                   string
	ContractID           string
	PaymentRequestID     string
	Amount               decimal.Decimal
	Currency             string
	Status               TransactionStatus
	PaymentMethod        string
	GatewayTransactionID string
	CreatedAt            time.Time
	CompletedAt          time.Time
}

var transitions = map[Status]map[Status]bool{
	StatusPending:  {StatusApproved: true, StatusRejected: true},
	StatusApproved: {StatusPaid: true},
}

func CheckTransition(id string, from, to Status) error {
	if !transitions[from][to] {
		return apperr.InvalidTransition(Entity, id, string(from), string(to))
	}
	return nil
}

// Transition checks from -> to and records it against the unit of work in
// ctx.
func Transition(ctx context.Context, id string, from, to Status) error {
	if err := CheckTransition(id, from, to); err != nil {
		return err
	}
	event.RecordTransition(ctx, Entity, string(from), string(to))
	return nil
}
