package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"engageflow/apperr"
	"engageflow/contract"
	"engageflow/event"
	"engageflow/logger"
	"engageflow/project"
)

// ContractFactory derives the contract of an accepted proposal inside the
// accepting transaction.
type ContractFactory interface {
	CreateFromProposal(ctx context.Context, tx pgx.Tx, p contract.FromProposalParams) (contract.Created, error)
}

type Service struct {
	runner          *event.Runner
	repo            Repository
	projects        project.Repository
	factory         ContractFactory
	defaultCurrency string
	log             logger.Logger
	idGenerator     func() string
	now             func() time.Time
}

func NewService(runner *event.Runner, repo Repository, projects project.Repository, factory ContractFactory, defaultCurrency string, log logger.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if projects == nil {
		projects = project.NewRepository()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		runner:          runner,
		repo:            repo,
		projects:        projects,
		factory:         factory,
		defaultCurrency: defaultCurrency,
		log:             log,
		idGenerator:     func() string { return uuid.NewString() },
		now:             time.Now,
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

type SubmitParams struct {
	Title             string
	Description       string
	CoverLetter       string
	Amount            decimal.Decimal
	Currency          string
	EstimatedDuration string
}

func (s *Service) Submit(ctx context.Context, projectID, freelancerID string, params SubmitParams) (Proposal, error) {
	if freelancerID == "" {
		return Proposal{}, apperr.Validation(Entity, "freelancer id required")
	}
	if !params.Amount.IsPositive() {
		return Proposal{}, apperr.Validation(Entity, "amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	var out Proposal
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		p, err := s.projects.GetForUpdate(ctx, tx, projectID)
		if err != nil {
			return nil, err
		}
		if p.ClientID == freelancerID {
			return nil, apperr.Unauthorized(Entity, "", "clients cannot bid on their own project")
		}
		if p.Status != project.StatusPublished {
			return nil, apperr.InvalidState(project.Entity, p.ID, "project is not accepting proposals")
		}

		title := strings.TrimSpace(params.Title)
		if title == "" {
			title = p.Title
		}
		created, err := s.repo.Create(ctx, tx, Proposal{
			ID:                s.idGenerator(),
			ProjectID:         p.ID,
			FreelancerID:      freelancerID,
			ClientID:          p.ClientID,
			Title:             title,
			Description:       strings.TrimSpace(params.Description),
			CoverLetter:       strings.TrimSpace(params.CoverLetter),
			Amount:            params.Amount,
			Currency:          currency,
			EstimatedDuration: strings.TrimSpace(params.EstimatedDuration),
			Status:            StatusPending,
		})
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.InvalidState(Entity, "", "freelancer already submitted a proposal for this project")
		}
		if err != nil {
			return nil, err
		}
		out = created

		return []event.Event{{
			Type:        event.ProposalSubmitted,
			AggregateID: created.ID,
			Payload:     map[string]any{"proposal_id": created.ID, "project_id": p.ID, "freelancer_id": freelancerID},
			Notices: []event.Notice{{
				UserID:   p.ClientID,
				Kind:     "proposal_submitted",
				Title:    "New proposal",
				Message:  fmt.Sprintf("A freelancer submitted a proposal for %q", p.Title),
				Priority: event.PriorityNormal,
				Payload:  map[string]any{"project_id": p.ID, "proposal_id": created.ID},
			}},
			OccurredAt: s.now(),
		}}, nil
	})
	if err != nil {
		return Proposal{}, err
	}
	return out, nil
}

// Accepted is the outcome of accepting a proposal.
type Accepted struct {
	Proposal Proposal
	Contract contract.Created
	Rejected []Proposal
}

// Accept accepts a pending proposal for the project client, rejects the
// project's other pending proposals, starts the project and creates the
// contract.
func (s *Service) Accept(ctx context.Context, proposalID, clientID string) (Accepted, error) {
	var out Accepted
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		// Project before proposal: the sibling sweep below locks every
		// pending proposal of the project, so a competing accept must queue
		// on the project row rather than hold a proposal.
		p, err := s.repo.Get(ctx, tx, proposalID)
		if err != nil {
			return nil, err
		}
		if p.ClientID != clientID {
			return nil, apperr.Unauthorized(Entity, proposalID, "only the project client may accept a proposal")
		}
		proj, err := s.projects.GetForUpdate(ctx, tx, p.ProjectID)
		if err != nil {
			return nil, err
		}
		if p, err = s.repo.GetForUpdate(ctx, tx, proposalID); err != nil {
			return nil, err
		}
		if err := Transition(ctx, p.ID, p.Status, StatusAccepted); err != nil {
			return nil, err
		}
		if proj.Status != project.StatusPublished {
			return nil, apperr.InvalidState(project.Entity, proj.ID,
				fmt.Sprintf("project is %s and no longer accepting proposals", proj.Status))
		}

		accepted, err := s.repo.UpdateStatus(ctx, tx, p.ID, StatusAccepted)
		if err != nil {
			return nil, err
		}
		now := s.now()

		var events []event.Event
		siblings, err := s.repo.ListPendingByProject(ctx, tx, p.ProjectID)
		if err != nil {
			return nil, err
		}
		for _, sib := range siblings {
			if err := Transition(ctx, sib.ID, sib.Status, StatusRejected); err != nil {
				return nil, err
			}
			rejected, err := s.repo.UpdateStatus(ctx, tx, sib.ID, StatusRejected)
			if err != nil {
				return nil, err
			}
			out.Rejected = append(out.Rejected, rejected)
			events = append(events, rejectedEvent(rejected, proj.Title, "Another proposal was accepted for this project", now))
		}

		if err := project.Transition(ctx, proj.ID, proj.Status, project.StatusInProgress); err != nil {
			return nil, err
		}
		if _, err := s.projects.UpdateStatus(ctx, tx, proj.ID, project.StatusInProgress); err != nil {
			return nil, err
		}

		created, err := s.factory.CreateFromProposal(ctx, tx, contract.FromProposalParams{
			ProposalID:        accepted.ID,
			ProposalStatus:    string(accepted.Status),
			ProjectID:         accepted.ProjectID,
			ClientID:          accepted.ClientID,
			FreelancerID:      accepted.FreelancerID,
			Title:             accepted.Title,
			Description:       accepted.Description,
			Amount:            accepted.Amount,
			Currency:          accepted.Currency,
			EstimatedDuration: accepted.EstimatedDuration,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, created.Events...)
		events = append(events, event.Event{
			Type:        event.ProposalAccepted,
			AggregateID: accepted.ID,
			Payload: map[string]any{
				"proposal_id": accepted.ID,
				"project_id":  accepted.ProjectID,
				"contract_id": created.Contract.ID,
				"rejected":    len(out.Rejected),
			},
			Notices: []event.Notice{{
				UserID:   accepted.FreelancerID,
				Kind:     "proposal_accepted",
				Title:    "Proposal accepted",
				Message:  fmt.Sprintf("Your proposal for %q was accepted", proj.Title),
				Priority: event.PriorityHigh,
				Payload:  map[string]any{"proposal_id": accepted.ID, "contract_id": created.Contract.ID},
			}},
			OccurredAt: now,
		})

		out.Proposal = accepted
		out.Contract = created
		return events, nil
	})
	if err != nil {
		return Accepted{}, err
	}
	return out, nil
}

// Reject declines a pending proposal on behalf of the project client.
func (s *Service) Reject(ctx context.Context, proposalID, clientID, reason string) (Proposal, error) {
	return s.close(ctx, proposalID, StatusRejected, func(p Proposal) error {
		if p.ClientID != clientID {
			return apperr.Unauthorized(Entity, proposalID, "only the project client may reject a proposal")
		}
		return nil
	}, func(p Proposal, proj project.Project, now time.Time) event.Event {
		msg := "Your proposal was declined"
		if r := strings.TrimSpace(reason); r != "" {
			msg = r
		}
		return rejectedEvent(p, proj.Title, msg, now)
	})
}

// Withdraw pulls a pending proposal on behalf of its freelancer.
func (s *Service) Withdraw(ctx context.Context, proposalID, freelancerID string) (Proposal, error) {
	return s.close(ctx, proposalID, StatusWithdrawn, func(p Proposal) error {
		if p.FreelancerID != freelancerID {
			return apperr.Unauthorized(Entity, proposalID, "only the proposing freelancer may withdraw a proposal")
		}
		return nil
	}, func(p Proposal, proj project.Project, now time.Time) event.Event {
		return event.Event{
			Type:        event.ProposalWithdrawn,
			AggregateID: p.ID,
			Payload:     map[string]any{"proposal_id": p.ID, "project_id": p.ProjectID},
			Notices: []event.Notice{{
				UserID:   p.ClientID,
				Kind:     "proposal_withdrawn",
				Title:    "Proposal withdrawn",
				Message:  fmt.Sprintf("A freelancer withdrew their proposal for %q", proj.Title),
				Priority: event.PriorityLow,
				Payload:  map[string]any{"proposal_id": p.ID, "project_id": p.ProjectID},
			}},
			OccurredAt: now,
		}
	})
}

func (s *Service) close(ctx context.Context, proposalID string, to Status, authorize func(Proposal) error, build func(Proposal, project.Project, time.Time) event.Event) (Proposal, error) {
	var out Proposal
	err := s.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		p, err := s.repo.GetForUpdate(ctx, tx, proposalID)
		if err != nil {
			return nil, err
		}
		if err := authorize(p); err != nil {
			return nil, err
		}
		if err := Transition(ctx, p.ID, p.Status, to); err != nil {
			return nil, err
		}
		updated, err := s.repo.UpdateStatus(ctx, tx, p.ID, to)
		if err != nil {
			return nil, err
		}
		proj, err := s.projects.Get(ctx, tx, p.ProjectID)
		if err != nil {
			return nil, err
		}
		out = updated
		return []event.Event{build(updated, proj, s.now())}, nil
	})
	if err != nil {
		return Proposal{}, err
	}
	return out, nil
}

func rejectedEvent(p Proposal, projectTitle, message string, now time.Time) event.Event {
	return event.Event{
		Type:        event.ProposalRejected,
		AggregateID: p.ID,
		Payload:     map[string]any{"proposal_id": p.ID, "project_id": p.ProjectID},
		Notices: []event.Notice{{
			UserID:   p.FreelancerID,
			Kind:     "proposal_rejected",
			Title:    "Proposal not selected",
			Message:  message,
			Priority: event.PriorityNormal,
			Payload:  map[string]any{"proposal_id": p.ID, "project_id": p.ProjectID},
		}},
		Emails: []event.Email{{
			UserID:   p.FreelancerID,
			Template: "proposal-rejected",
			Vars: map[string]string{
				"project_title": projectTitle,
				"reason":        message,
			},
		}},
		OccurredAt: now,
	}
}
