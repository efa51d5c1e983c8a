package contract

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"engageflow/apperr"
	"engageflow/event"
)

const Entity = "contract"

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Contract struct {
	ID           string
	ProjectID    string
	ProposalID   string
	ClientID     string
	FreelancerID string
	Title        string
	Description  string
	Amount       decimal.Decimal
	Currency     string
	Status       Status
	StartDate    time.Time
	EndDate      time.Time
	ChannelID    string
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusActive: true, StatusCancelled: true},
	StatusActive:  {StatusCompleted: true},
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func CheckTransition(id string, from, to Status) error {
	if !CanTransition(from, to) {
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
