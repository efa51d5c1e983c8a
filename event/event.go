// Package event holds the domain events produced by lifecycle operations and
// the machinery that persists and delivers them once a unit of work commits.
package event

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Type string

const (
	ProposalSubmitted     Type = "proposal.submitted"
	ProposalAccepted      Type = "proposal.accepted"
	ProposalRejected      Type = "proposal.rejected"
	ProposalWithdrawn     Type = "proposal.withdrawn"
	ContractCreated       Type = "contract.created"
	ContractAccepted      Type = "contract.accepted"
	ContractRejected      Type = "contract.rejected"
	ContractCompleted     Type = "contract.completed"
	MilestoneCreated      Type = "milestone.created"
	MilestoneStatusChange Type = "milestone.status_changed"
	PaymentRequested      Type = "payment.requested"
	PaymentApproved       Type = "payment.approved"
	PaymentRejected       Type = "payment.rejected"
	PaymentProcessed      Type = "payment.processed"
	ProjectStarted        Type = "project.started"
	ProjectCompleted      Type = "project.completed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notice is one call to the notification sink.
type Notice struct {
	UserID   string
	Kind     string
	Title    string
	Message  string
	Priority Priority
	Payload  map[string]any
}

// Email is one templated email to a user. The address is resolved at
// delivery time.
type Email struct {
	UserID   string
	Template string
	Vars     map[string]string
}

type Event struct {
	Type        Type
	AggregateID string
	Payload     map[string]any
	Notices     []Notice
	Emails      []Email
	OccurredAt  time.Time
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type Mailer interface {
	SendTemplate(ctx context.Context, address, template string, vars map[string]string) error
}

type Directory interface {
	EmailAddress(ctx context.Context, userID string) (string, error)
}

// OutboxWriter persists events inside the transaction that produced them.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, evt Event) error
}
