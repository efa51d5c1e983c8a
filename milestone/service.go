package milestone

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"engageflow/apperr"
	"engageflow/event"
	"engageflow/logger"
)

// Cascader reacts to a milestone reaching completed inside the same
// transaction.
type Cascader interface {
	MilestoneCompleted(ctx context.Context, tx pgx.Tx, m Milestone) ([]event.Event, error)
}

type Service struct {
	runner      *event.Runner
	repo        Repository
	cascade     Cascader
	log         logger.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(runner *event.Runner, repo Repository, cascade Cascader, log logger.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		runner:      runner,
		repo:        repo,
		cascade:     cascade,
		log:         log,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	Title       string
	Description string
	Amount      decimal.Decimal
	DueDate     time.Time
}

// Create adds a milestone to a pending or active contract on behalf of its
// client and renumbers the contract's milestones by due date.
func (s *Service) Create(ctx context.Context, contractID, clientID string, params CreateParams) (Milestone, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Milestone{}, apperr.Validation(Entity, "title required")
	}
	if !params.Amount.IsPositive() {
		return Milestone{}, apperr.Validation(Entity, "amount must be positive")
	}
	if params.DueDate.IsZero() {
		return Milestone{}, apperr.Validation(Entity, "due date required")
	}

	var out Milestone
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		parties, err := s.repo.ContractParties(ctx, tx, contractID)
		if err != nil {
			return nil, err
		}
		if parties.ClientID != clientID {
			return nil, apperr.Unauthorized(Entity, contractID, "only the contract client may add milestones")
		}
		if !parties.ContractOpen() {
			return nil, apperr.InvalidState("contract", contractID,
				fmt.Sprintf("cannot add milestones to a %s contract", parties.ContractStatus))
		}
		if params.DueDate.Before(parties.StartDate) {
			return nil, apperr.Validation(Entity, "due date precedes contract start")
		}

		existing, err := s.repo.ListByContract(ctx, tx, contractID)
		if err != nil {
			return nil, err
		}
		created, err := s.repo.Create(ctx, tx, Milestone{
			ID:          s.idGenerator(),
			ContractID:  contractID,
			Title:       title,
			Description: strings.TrimSpace(params.Description),
			Amount:      params.Amount,
			Status:      StatusPending,
			OrderIndex:  len(existing) + 1,
			DueDate:     params.DueDate,
		})
		if err != nil {
			return nil, err
		}
		if err := s.repo.Renumber(ctx, tx, contractID); err != nil {
			return nil, err
		}
		all, err := s.repo.ListByContract(ctx, tx, contractID)
		if err != nil {
			return nil, err
		}
		for _, m := range all {
			if m.ID == created.ID {
				created = m
			}
		}
		out = created

		return []event.Event{{
			Type:        event.MilestoneCreated,
			AggregateID: created.ID,
			Payload: map[string]any{
				"milestone_id": created.ID,
				"contract_id":  contractID,
				"amount":       created.Amount.StringFixed(2),
				"order_index":  created.OrderIndex,
			},
			Notices: []event.Notice{{
				UserID:   parties.FreelancerID,
				Kind:     "milestone_created",
				Title:    "New milestone added",
				Message:  fmt.Sprintf("Milestone %q was added to your contract", created.Title),
				Priority: event.PriorityNormal,
				Payload:  map[string]any{"contract_id": contractID, "milestone_id": created.ID},
			}},
			OccurredAt: s.now(),
		}}, nil
	})
	if err != nil {
		return Milestone{}, err
	}
	return out, nil
}

// UpdateStatus moves a milestone one step along pending -> in_progress ->
// completed on an active contract. Only the contract freelancer may drive it;
// paid is reserved for payment processing.
func (s *Service) UpdateStatus(ctx context.Context, milestoneID, freelancerID string, next Status) (Milestone, error) {
	if !ValidStatus(next) {
		return Milestone{}, apperr.Validation(Entity, fmt.Sprintf("unknown status %q", next))
	}

	var out Milestone
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		m, err := s.repo.GetForUpdate(ctx, tx, milestoneID)
		if err != nil {
			return nil, err
		}
		parties, err := s.repo.ContractParties(ctx, tx, m.ContractID)
		if err != nil {
			return nil, err
		}
		if parties.FreelancerID != freelancerID {
			return nil, apperr.Unauthorized(Entity, milestoneID, "only the contract freelancer may update milestone status")
		}
		if next == StatusPaid {
			return nil, apperr.InvalidState(Entity, milestoneID, "milestones are marked paid only by payment processing")
		}
		if !parties.ContractRunning() {
			return nil, apperr.InvalidState(Entity, milestoneID,
				fmt.Sprintf("milestones move only on an active contract, contract is %s", parties.ContractStatus))
		}
		if err := Transition(ctx, milestoneID, m.Status, next); err != nil {
			return nil, err
		}

		now := s.now()
		updated, err := s.repo.UpdateStatus(ctx, tx, milestoneID, next, now)
		if err != nil {
			return nil, err
		}
		out = updated

		events := []event.Event{{
			Type:        event.MilestoneStatusChange,
			AggregateID: updated.ID,
			Payload: map[string]any{
				"milestone_id": updated.ID,
				"contract_id":  updated.ContractID,
				"from":         string(m.Status),
				"to":           string(next),
			},
			Notices: []event.Notice{{
				UserID:   parties.ClientID,
				Kind:     "milestone_updated",
				Title:    "Milestone updated",
				Message:  fmt.Sprintf("Milestone %q is now %s", updated.Title, strings.ReplaceAll(string(next), "_", " ")),
				Priority: event.PriorityNormal,
				Payload:  map[string]any{"contract_id": updated.ContractID, "milestone_id": updated.ID, "status": string(next)},
			}},
			OccurredAt: now,
		}}

		if next == StatusCompleted && s.cascade != nil {
			cascaded, err := s.cascade.MilestoneCompleted(ctx, tx, updated)
			if err != nil {
				return nil, err
			}
			events = append(events, cascaded...)
		}
		return events, nil
	})
	if err != nil {
		return Milestone{}, err
	}
	return out, nil
}
