package contract

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
	"engageflow/channel"
	"engageflow/duration"
	"engageflow/event"
	"engageflow/metrics"
	"engageflow/milestone"
	"engageflow/schedule"
)

const proposalAccepted = "accepted"

// FromProposalParams carries the accepted proposal a contract is derived from.
type FromProposalParams struct {
	ProposalID        string
	ProposalStatus    string
	ProjectID         string
	ClientID          string
	FreelancerID      string
	Title             string
	Description       string
	Amount            decimal.Decimal
	Currency          string
	EstimatedDuration string
}

type Created struct {
	Contract   Contract
	Milestones []milestone.Milestone
	Events     []event.Event
}

// Factory derives a contract, its milestone schedule and the parties'
// conversation from an accepted proposal.
type Factory struct {
	repo            Repository
	milestones      milestone.Repository
	channels        channel.Provisioner
	defaultCurrency string
	scheduleOpts    schedule.Options
	idGenerator     func() string
	now             func() time.Time
}

func NewFactory(repo Repository, milestones milestone.Repository, channels channel.Provisioner, defaultCurrency string) *Factory {
	if repo == nil {
		repo = NewRepository()
	}
	if milestones == nil {
		milestones = milestone.NewRepository()
	}
	return &Factory{
		repo:            repo,
		milestones:      milestones,
		channels:        channels,
		defaultCurrency: defaultCurrency,
		scheduleOpts:    schedule.Options{AbsorbResidue: true},
		idGenerator:     func() string { return uuid.NewString() },
		now:             time.Now,
	}
}

func (f *Factory) WithScheduleOptions(opts schedule.Options) *Factory {
	f.scheduleOpts = opts
	return f
}

func (f *Factory) WithIDGenerator(gen func() string) *Factory {
	f.idGenerator = gen
	return f
}

func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

func (f *Factory) CreateFromProposal(ctx context.Context, tx pgx.Tx, p FromProposalParams) (Created, error) {
	if p.ProposalStatus != proposalAccepted {
		return Created{}, apperr.InvalidState("proposal", p.ProposalID,
			fmt.Sprintf("contract requires an accepted proposal, proposal is %s", p.ProposalStatus))
	}
	exists, err := f.repo.ExistsForProposal(ctx, tx, p.ProposalID)
	if err != nil {
		return Created{}, err
	}
	if exists {
		return Created{}, duplicateErr(p.ProposalID)
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = f.defaultCurrency
	}
	start := f.now().UTC()
	end := duration.EndDate(p.EstimatedDuration, start)

	var channelID string
	if f.channels != nil {
		channelID, err = f.channels.GetOrCreate(ctx, tx, p.ProjectID, p.ClientID, p.FreelancerID)
		if err != nil {
			return Created{}, err
		}
	}

	c, err := f.repo.Create(ctx, tx, Contract{
		ID:           f.idGenerator(),
		ProjectID:    p.ProjectID,
		ProposalID:   p.ProposalID,
		ClientID:     p.ClientID,
		FreelancerID: p.FreelancerID,
		Title:        p.Title,
		Description:  p.Description,
		Amount:       p.Amount,
		Currency:     currency,
		Status:       StatusPending,
		StartDate:    start,
		EndDate:      end,
		ChannelID:    channelID,
	})
	if errors.Is(err, ErrDuplicate) {
		return Created{}, duplicateErr(p.ProposalID)
	}
	if err != nil {
		return Created{}, err
	}

	items := schedule.Generate(schedule.Params{
		Start:    start,
		End:      end,
		Total:    c.Amount,
		Duration: p.EstimatedDuration,
	}, f.scheduleOpts)
	milestones := make([]milestone.Milestone, 0, len(items))
	for _, it := range items {
		m, err := f.milestones.Create(ctx, tx, milestone.Milestone{
			ID:          f.idGenerator(),
			ContractID:  c.ID,
			Title:       it.Title,
			Description: it.Description,
			Amount:      it.Amount,
			Status:      milestone.StatusPending,
			OrderIndex:  it.OrderIndex,
			DueDate:     it.DueDate,
		})
		if err != nil {
			return Created{}, err
		}
		milestones = append(milestones, m)
	}
	metrics.ContractsCreated.Inc()

	evt := event.Event{
		Type:        event.ContractCreated,
		AggregateID: c.ID,
		Payload: map[string]any{
			"contract_id":     c.ID,
			"proposal_id":     c.ProposalID,
			"project_id":      c.ProjectID,
			"amount":          c.Amount.StringFixed(2),
			"currency":        c.Currency,
			"milestone_count": len(milestones),
			"channel_id":      c.ChannelID,
		},
		Notices: []event.Notice{{
			UserID:   c.FreelancerID,
			Kind:     "contract_created",
			Title:    "Contract created",
			Message:  fmt.Sprintf("A contract for %q is waiting for your acceptance", c.Title),
			Priority: event.PriorityHigh,
			Payload:  map[string]any{"contract_id": c.ID, "project_id": c.ProjectID},
		}},
		Emails: []event.Email{{
			UserID:   c.FreelancerID,
			Template: "contract-created",
			Vars: map[string]string{
				"contract_title": c.Title,
				"amount":         c.Amount.StringFixed(2),
				"currency":       c.Currency,
				"end_date":       c.EndDate.Format("2006-01-02"),
			},
		}},
		OccurredAt: start,
	}
	return Created{Contract: c, Milestones: milestones, Events: []event.Event{evt}}, nil
}

func duplicateErr(proposalID string) error {
	return apperr.InvalidState(Entity, "", fmt.Sprintf("a contract already exists for proposal %s", proposalID))
}
