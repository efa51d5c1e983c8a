package testkit

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"engageflow/cascade"
	"engageflow/contract"
	"engageflow/event"
	"engageflow/logger"
	"engageflow/milestone"
	"engageflow/payment"
	"engageflow/project"
	"engageflow/proposal"
	"engageflow/schedule"
)

const Currency = "USD"

// Epoch is the fixed clock every harness service runs on.
var Epoch = time.Date(2023, time.January, 2, 9, 0, 0, 0, time.UTC)

type Options struct {
	BestEffortNotifications bool
	AbsorbResidue           bool
}

// Harness wires every lifecycle service over one in-memory store.
type Harness struct {
	Store    *Store
	Pool     *Pool
	Repos    Repos
	Notifier *Notifier
	Mailer   *Mailer
	Outbox   *Outbox

	Runner     *event.Runner
	Factory    *contract.Factory
	Cascade    *cascade.Engine
	Proposals  *proposal.Service
	Contracts  *contract.Service
	Milestones *milestone.Service
	Payments   *payment.Service

	clock atomic.Int64
	ids   atomic.Int64
}

func NewHarness(t testing.TB, opts Options) *Harness {
	h := &Harness{
		Store:    NewStore(),
		Notifier: &Notifier{FailFor: map[string]error{}},
		Mailer:   &Mailer{},
		Outbox:   &Outbox{},
	}
	h.clock.Store(Epoch.UnixNano())
	h.Store.Now = h.Now
	h.Pool = NewPool(h.Store)
	h.Repos = NewRepos(h.Store)

	log := logger.NewTestLogger(t)
	dispatcher := event.NewDispatcher(h.Notifier, h.Mailer, &Directory{s: h.Store}, log).
		WithBestEffortNotifications(opts.BestEffortNotifications)
	h.Runner = event.NewRunner(h.Pool, h.Outbox, dispatcher)

	h.Factory = contract.NewFactory(h.Repos.Contracts, h.Repos.Milestones, h.Repos.Channels, Currency).
		WithScheduleOptions(schedule.Options{AbsorbResidue: opts.AbsorbResidue}).
		WithIDGenerator(h.NextID).
		WithClock(h.Now)
	h.Cascade = cascade.NewEngine(h.Runner, h.Repos.Contracts, h.Repos.Milestones, h.Repos.Projects, log).
		WithClock(h.Now)
	h.Proposals = proposal.NewService(h.Runner, h.Repos.Proposals, h.Repos.Projects, h.Factory, Currency, log).
		WithIDGenerator(h.NextID).
		WithClock(h.Now)
	h.Contracts = contract.NewService(h.Runner, h.Repos.Contracts, h.Repos.Milestones, h.Repos.Projects, h.Factory, log).
		WithClock(h.Now)
	h.Milestones = milestone.NewService(h.Runner, h.Repos.Milestones, h.Cascade, log).
		WithIDGenerator(h.NextID).
		WithClock(h.Now)
	h.Payments = payment.NewService(h.Runner, h.Repos.Payments, h.Repos.Contracts, h.Repos.Milestones, Currency, log).
		WithIDGenerator(h.NextID).
		WithClock(h.Now)
	return h
}

func (h *Harness) Now() time.Time {
	return time.Unix(0, h.clock.Load()).UTC()
}

// Advance moves the harness clock forward.
func (h *Harness) Advance(d time.Duration) {
	h.clock.Add(int64(d))
}

func (h *Harness) NextID() string {
	return fmt.Sprintf("id-%04d", h.ids.Add(1))
}

// SeedProject stores a project owned by clientID and registers the client's
// email address.
func (h *Harness) SeedProject(id, clientID string, status project.Status) project.Project {
	p := project.Project{
		ID:        id,
		ClientID:  clientID,
		Title:     "Project " + id,
		Status:    status,
		CreatedAt: h.Now(),
		UpdatedAt: h.Now(),
	}
	h.Store.PutProject(p)
	h.RegisterEmail(clientID)
	return p
}

// SeedProposal stores a pending proposal on projectID.
func (h *Harness) SeedProposal(id, projectID, freelancerID string, amount string, duration string) proposal.Proposal {
	p := h.Store.Project(projectID)
	prop := proposal.Proposal{
		ID:                id,
		ProjectID:         projectID,
		FreelancerID:      freelancerID,
		ClientID:          p.ClientID,
		Title:             p.Title,
		Description:       "Proposal " + id,
		Amount:            decimal.RequireFromString(amount),
		Currency:          Currency,
		EstimatedDuration: duration,
		Status:            proposal.StatusPending,
		CreatedAt:         h.Now(),
		UpdatedAt:         h.Now(),
	}
	h.Store.PutProposal(prop)
	h.RegisterEmail(freelancerID)
	return prop
}

func (h *Harness) RegisterEmail(userID string) {
	h.Store.mu.Lock()
	defer h.Store.mu.Unlock()
	h.Store.Emails[userID] = userID + "@example.com"
}

// Engage seeds a published project and a proposal, accepts the proposal and
// has the freelancer accept the resulting contract. It fails the test on any
// error.
func (h *Harness) Engage(t testing.TB, projectID, clientID, freelancerID, amount, duration string) (contract.Contract, []milestone.Milestone) {
	t.Helper()
	ctx := context.Background()
	if h.Store.Project(projectID).ID == "" {
		h.SeedProject(projectID, clientID, project.StatusPublished)
	}
	prop := h.SeedProposal("prop-"+projectID+"-"+freelancerID, projectID, freelancerID, amount, duration)

	accepted, err := h.Proposals.Accept(ctx, prop.ID, clientID)
	if err != nil {
		t.Fatalf("engage: accept proposal: %v", err)
	}
	if _, err := h.Contracts.Accept(ctx, accepted.Contract.Contract.ID, freelancerID); err != nil {
		t.Fatalf("engage: accept contract: %v", err)
	}
	c := h.Store.Contract(accepted.Contract.Contract.ID)
	return c, h.Store.MilestonesOf(c.ID)
}

// Complete walks a milestone from its current state to completed.
func (h *Harness) Complete(t testing.TB, m milestone.Milestone, freelancerID string) {
	t.Helper()
	ctx := context.Background()
	if m.Status == milestone.StatusPending {
		if _, err := h.Milestones.UpdateStatus(ctx, m.ID, freelancerID, milestone.StatusInProgress); err != nil {
			t.Fatalf("start milestone %s: %v", m.ID, err)
		}
	}
	if _, err := h.Milestones.UpdateStatus(ctx, m.ID, freelancerID, milestone.StatusCompleted); err != nil {
		t.Fatalf("complete milestone %s: %v", m.ID, err)
	}
}
