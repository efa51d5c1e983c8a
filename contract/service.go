package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
	"engageflow/event"
	"engageflow/logger"
	"engageflow/milestone"
	"engageflow/project"
)

type Service struct {
	runner     *event.Runner
	repo       Repository
	milestones milestone.Repository
	projects   project.Repository
	factory    *Factory
	log        logger.Logger
	now        func() time.Time
}

func NewService(runner *event.Runner, repo Repository, milestones milestone.Repository, projects project.Repository, factory *Factory, log logger.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if milestones == nil {
		milestones = milestone.NewRepository()
	}
	if projects == nil {
		projects = project.NewRepository()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		runner:     runner,
		repo:       repo,
		milestones: milestones,
		projects:   projects,
		factory:    factory,
		log:        log,
		now:        time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateFromProposal runs the factory in its own unit of work.
func (s *Service) CreateFromProposal(ctx context.Context, params FromProposalParams) (Created, error) {
	var out Created
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		created, err := s.factory.CreateFromProposal(ctx, tx, params)
		if err != nil {
			return nil, err
		}
		out = created
		return created.Events, nil
	})
	if err != nil {
		return Created{}, err
	}
	return out, nil
}

// Accept activates a pending contract for its freelancer, resets its
// milestones to pending and starts the project if it was still published.
func (s *Service) Accept(ctx context.Context, contractID, freelancerID string) (Contract, error) {
	var out Contract
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		c, err := s.lockForFreelancer(ctx, tx, contractID, freelancerID)
		if err != nil {
			return nil, err
		}
		if err := Transition(ctx, c.ID, c.Status, StatusActive); err != nil {
			return nil, err
		}
		now := s.now()
		updated, err := s.repo.UpdateStatus(ctx, tx, c.ID, StatusActive, now)
		if err != nil {
			return nil, err
		}
		if _, err := s.milestones.ResetAll(ctx, tx, c.ID); err != nil {
			return nil, err
		}

		events := []event.Event{{
			Type:        event.ContractAccepted,
			AggregateID: c.ID,
			Payload:     map[string]any{"contract_id": c.ID, "project_id": c.ProjectID},
			Notices: []event.Notice{{
				UserID:   c.ClientID,
				Kind:     "contract_accepted",
				Title:    "Contract accepted",
				Message:  fmt.Sprintf("The freelancer accepted the contract %q", c.Title),
				Priority: event.PriorityHigh,
				Payload:  map[string]any{"contract_id": c.ID},
			}},
			OccurredAt: now,
		}}

		p, err := s.projects.GetForUpdate(ctx, tx, c.ProjectID)
		if err != nil {
			return nil, err
		}
		if p.Status == project.StatusPublished {
			if err := project.Transition(ctx, p.ID, p.Status, project.StatusInProgress); err != nil {
				return nil, err
			}
			if _, err := s.projects.UpdateStatus(ctx, tx, p.ID, project.StatusInProgress); err != nil {
				return nil, err
			}
			events = append(events, event.Event{
				Type:        event.ProjectStarted,
				AggregateID: p.ID,
				Payload:     map[string]any{"project_id": p.ID, "contract_id": c.ID},
				OccurredAt:  now,
			})
		}

		out = updated
		return events, nil
	})
	if err != nil {
		return Contract{}, err
	}
	return out, nil
}

func (s *Service) Reject(ctx context.Context, contractID, freelancerID string) (Contract, error) {
	var out Contract
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		c, err := s.lockForFreelancer(ctx, tx, contractID, freelancerID)
		if err != nil {
			return nil, err
		}
		if err := Transition(ctx, c.ID, c.Status, StatusCancelled); err != nil {
			return nil, err
		}
		now := s.now()
		updated, err := s.repo.UpdateStatus(ctx, tx, c.ID, StatusCancelled, now)
		if err != nil {
			return nil, err
		}
		out = updated
		return []event.Event{{
			Type:        event.ContractRejected,
			AggregateID: c.ID,
			Payload:     map[string]any{"contract_id": c.ID, "project_id": c.ProjectID},
			Notices: []event.Notice{{
				UserID:   c.ClientID,
				Kind:     "contract_rejected",
				Title:    "Contract declined",
				Message:  fmt.Sprintf("The freelancer declined the contract %q", c.Title),
				Priority: event.PriorityHigh,
				Payload:  map[string]any{"contract_id": c.ID},
			}},
			OccurredAt: now,
		}}, nil
	})
	if err != nil {
		return Contract{}, err
	}
	return out, nil
}

// Complete lets the client close an active contract regardless of milestone
// progress. It does not complete the project.
func (s *Service) Complete(ctx context.Context, contractID, clientID string) (Contract, error) {
	var out Contract
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		c, err := s.repo.GetForUpdate(ctx, tx, contractID)
		if err != nil {
			return nil, err
		}
		if c.ClientID != clientID {
			return nil, apperr.Unauthorized(Entity, contractID, "only the contract client may complete the contract")
		}
		if err := Transition(ctx, c.ID, c.Status, StatusCompleted); err != nil {
			return nil, err
		}
		now := s.now()
		updated, err := s.repo.UpdateStatus(ctx, tx, c.ID, StatusCompleted, now)
		if err != nil {
			return nil, err
		}
		out = updated
		return []event.Event{{
			Type:        event.ContractCompleted,
			AggregateID: c.ID,
			Payload:     map[string]any{"contract_id": c.ID, "project_id": c.ProjectID, "automatic": false},
			Notices: []event.Notice{{
				UserID:   c.FreelancerID,
				Kind:     "contract_completed",
				Title:    "Contract completed",
				Message:  fmt.Sprintf("The client marked the contract %q as completed", c.Title),
				Priority: event.PriorityNormal,
				Payload:  map[string]any{"contract_id": c.ID},
			}},
			OccurredAt: now,
		}}, nil
	})
	if err != nil {
		return Contract{}, err
	}
	return out, nil
}

func (s *Service) lockForFreelancer(ctx context.Context, tx pgx.Tx, contractID, freelancerID string) (Contract, error) {
	c, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return Contract{}, err
	}
	if c.FreelancerID != freelancerID {
		return Contract{}, apperr.Unauthorized(Entity, contractID, "only the contract freelancer may respond to the contract")
	}
	return c, nil
}
