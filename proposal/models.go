package proposal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"engageflow/apperr"
	"engageflow/event"
)

const Entity = "proposal"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

type Proposal struct {
	ID                string
	ProjectID         string
	FreelancerID      string
	ClientID          string
	Title             string
	Description       string
	CoverLetter       string
	Amount            decimal.Decimal
	Currency          string
	EstimatedDuration string
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Every status other than pending is terminal.
var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusAccepted: true, StatusRejected: true, StatusWithdrawn: true},
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
