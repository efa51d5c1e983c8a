package milestone

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"engageflow/apperr"
	"engageflow/event"
)

const Entity = "milestone"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPaid       Status = "paid"
)

type Milestone struct {
	ID          string
	ContractID  string
	Title       string
	Description string
	Amount      decimal.Decimal
	Status      Status
	OrderIndex  int
	DueDate     time.Time
	CompletedAt *time.Time
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Parties is the slice of the owning contract the milestone lifecycle needs.
type Parties struct {
	ContractID     string
	ClientID       string
	FreelancerID   string
	ContractStatus string
	StartDate      time.Time
}

// Contract statuses the milestone lifecycle gates on; they mirror
// contract.StatusPending and contract.StatusActive.
const (
	ContractPending = "pending"
	ContractActive  = "active"
)

// ContractOpen reports whether milestones may still be added.
func (p Parties) ContractOpen() bool {
	return p.ContractStatus == ContractPending || p.ContractStatus == ContractActive
}

// ContractRunning reports whether milestones may change status.
func (p Parties) ContractRunning() bool {
	return p.ContractStatus == ContractActive
}

// next is the only forward step allowed from each state.
var next = map[Status]Status{
	StatusPending:    StatusInProgress,
	StatusInProgress: StatusCompleted,
	StatusCompleted:  StatusPaid,
}

func CanTransition(from, to Status) bool {
	n, ok := next[from]
	return ok && n == to
}

// CheckTransition is the single gate for every milestone status change;
// services go through Transition so the change is also recorded.
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

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusPaid:
		return true
	}
	return false
}
