// Package cascade propagates completion upward: a contract completes when
// all of its milestones are completed, and a project completes when all of
// its contracts are.
package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"engageflow/contract"
	"engageflow/event"
	"engageflow/logger"
	"engageflow/metrics"
	"engageflow/milestone"
	"engageflow/project"
)

type Engine struct {
	runner     *event.Runner
	contracts  contract.Repository
	milestones milestone.Repository
	projects   project.Repository
	log        logger.Logger
	now        func() time.Time
}

func NewEngine(runner *event.Runner, contracts contract.Repository, milestones milestone.Repository, projects project.Repository, log logger.Logger) *Engine {
	if contracts == nil {
		contracts = contract.NewRepository()
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
	return &Engine{
		runner:     runner,
		contracts:  contracts,
		milestones: milestones,
		projects:   projects,
		log:        log,
		now:        time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// MilestoneCompleted runs inside the transaction that completed m.
func (e *Engine) MilestoneCompleted(ctx context.Context, tx pgx.Tx, m milestone.Milestone) ([]event.Event, error) {
	return e.completeContract(ctx, tx, m.ContractID)
}

// Recheck re-evaluates a contract in its own unit of work. It is a no-op once
// the contract has left active.
func (e *Engine) Recheck(ctx context.Context, contractID string) ([]event.Event, error) {
	var out []event.Event
	err := e.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		events, err := e.completeContract(ctx, tx, contractID)
		out = events
		return events, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) completeContract(ctx context.Context, tx pgx.Tx, contractID string) ([]event.Event, error) {
	// The contract row lock serializes concurrent completions of sibling
	// milestones; the milestone list below is read after it is held.
	c, err := e.contracts.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != contract.StatusActive {
		return nil, nil
	}

	ms, err := e.milestones.ListByContract(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	if !allCompleted(ms) {
		return nil, nil
	}

	if err := contract.Transition(ctx, c.ID, c.Status, contract.StatusCompleted); err != nil {
		return nil, err
	}
	now := e.now()
	if _, err := e.contracts.UpdateStatus(ctx, tx, c.ID, contract.StatusCompleted, now); err != nil {
		return nil, err
	}
	metrics.CascadeCompletions.WithLabelValues("contract").Inc()
	e.log.Info("contract auto-completed", map[string]interface{}{"contract_id": c.ID, "milestones": len(ms)})

	notice := func(userID string) event.Notice {
		return event.Notice{
			UserID:   userID,
			Kind:     "contract_completed",
			Title:    "Contract completed",
			Message:  fmt.Sprintf("All milestones of %q are complete and the contract is closed", c.Title),
			Priority: event.PriorityNormal,
			Payload:  map[string]any{"contract_id": c.ID, "project_id": c.ProjectID},
		}
	}
	events := []event.Event{{
		Type:        event.ContractCompleted,
		AggregateID: c.ID,
		Payload:     map[string]any{"contract_id": c.ID, "project_id": c.ProjectID, "automatic": true},
		Notices:     []event.Notice{notice(c.ClientID), notice(c.FreelancerID)},
		OccurredAt:  now,
	}}

	projectEvents, err := e.completeProject(ctx, tx, c.ProjectID, now)
	if err != nil {
		return nil, err
	}
	return append(events, projectEvents...), nil
}

func (e *Engine) completeProject(ctx context.Context, tx pgx.Tx, projectID string, now time.Time) ([]event.Event, error) {
	p, err := e.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if p.Status == project.StatusCompleted {
		return nil, nil
	}

	contracts, err := e.contracts.ListByProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, nil
	}
	for _, c := range contracts {
		if c.Status != contract.StatusCompleted {
			return nil, nil
		}
	}

	if !project.CanTransition(p.Status, project.StatusCompleted) {
		e.log.Warn("project not in progress, skipping auto-completion", map[string]interface{}{
			"project_id": p.ID,
			"status":     string(p.Status),
		})
		return nil, nil
	}
	if err := project.Transition(ctx, p.ID, p.Status, project.StatusCompleted); err != nil {
		return nil, err
	}
	if _, err := e.projects.UpdateStatus(ctx, tx, p.ID, project.StatusCompleted); err != nil {
		return nil, err
	}
	metrics.CascadeCompletions.WithLabelValues("project").Inc()
	e.log.Info("project auto-completed", map[string]interface{}{"project_id": p.ID, "contracts": len(contracts)})

	recipients := []string{p.ClientID}
	seen := map[string]bool{p.ClientID: true}
	for _, c := range contracts {
		if !seen[c.FreelancerID] {
			seen[c.FreelancerID] = true
			recipients = append(recipients, c.FreelancerID)
		}
	}

	evt := event.Event{
		Type:        event.ProjectCompleted,
		AggregateID: p.ID,
		Payload:     map[string]any{"project_id": p.ID, "contracts": len(contracts)},
		OccurredAt:  now,
	}
	for _, userID := range recipients {
		evt.Notices = append(evt.Notices, event.Notice{
			UserID:   userID,
			Kind:     "project_completed",
			Title:    "Project completed",
			Message:  fmt.Sprintf("Project %q has been completed", p.Title),
			Priority: event.PriorityNormal,
			Payload:  map[string]any{"project_id": p.ID},
		})
		evt.Emails = append(evt.Emails, event.Email{
			UserID:   userID,
			Template: "project-completed",
			Vars:     map[string]string{"project_title": p.Title},
		})
	}
	return []event.Event{evt}, nil
}

// allCompleted requires every milestone to be exactly completed. Paid
// milestones do not count.
func allCompleted(ms []milestone.Milestone) bool {
	if len(ms) == 0 {
		return false
	}
	for _, m := range ms {
		if m.Status != milestone.StatusCompleted {
			return false
		}
	}
	return true
}
