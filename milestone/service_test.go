package milestone_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engageflow/apperr"
	"engageflow/contract"
	"engageflow/event"
	"engageflow/milestone"
	"engageflow/project"
	"engageflow/testkit"
)

func TestUpdateStatusMovesForwardOneStep(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	_, ms := h.Engage(t, "proj-1", "client-1", "free-1", "1000", "2 weeks")
	require.Len(t, ms, 3)
	ctx := context.Background()
	m := ms[0]

	_, err := h.Milestones.UpdateStatus(ctx, m.ID, "free-1", milestone.StatusCompleted)
	require.ErrorIs(t, err, apperr.ErrInvalidState, "pending cannot skip to completed")

	got, err := h.Milestones.UpdateStatus(ctx, m.ID, "free-1", milestone.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, milestone.StatusInProgress, got.Status)

	got, err = h.Milestones.UpdateStatus(ctx, m.ID, "free-1", milestone.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, milestone.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	_, err = h.Milestones.UpdateStatus(ctx, m.ID, "free-1", milestone.StatusInProgress)
	require.ErrorIs(t, err, apperr.ErrInvalidState, "completed cannot move back")

	_, err = h.Milestones.UpdateStatus(ctx, m.ID, "free-1", milestone.StatusPending)
	require.ErrorIs(t, err, apperr.ErrInvalidState)

	updates := 0
	for _, n := range h.Notifier.For("client-1") {
		if n.Kind == "milestone_updated" {
			updates++
		}
	}
	assert.Equal(t, 2, updates)
	assert.Equal(t, 2, h.Outbox.Count(event.MilestoneStatusChange))
}

func TestUpdateStatusIsFreelancerOnly(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	_, ms := h.Engage(t, "proj-1", "client-1", "free-1", "1000", "2 weeks")

	for _, user := range []string{"client-1", "free-2", ""} {
		_, err := h.Milestones.UpdateStatus(context.Background(), ms[0].ID, user, milestone.StatusInProgress)
		require.ErrorIs(t, err, apperr.ErrUnauthorized, user)
	}
	assert.Equal(t, milestone.StatusPending, h.Store.Milestone(ms[0].ID).Status)
}

func TestUpdateStatusNeverMarksPaid(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	_, ms := h.Engage(t, "proj-1", "client-1", "free-1", "1000", "2 weeks")
	h.Complete(t, ms[0], "free-1")

	_, err := h.Milestones.UpdateStatus(context.Background(), ms[0].ID, "free-1", milestone.StatusPaid)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, milestone.StatusCompleted, h.Store.Milestone(ms[0].ID).Status)
}

func TestUpdateStatusRequiresActiveContract(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	h.SeedProject("proj-1", "client-1", project.StatusPublished)
	h.SeedProposal("prop-1", "proj-1", "free-1", "400", "")
	accepted, err := h.Proposals.Accept(context.Background(), "prop-1", "client-1")
	require.NoError(t, err)
	require.Len(t, accepted.Contract.Milestones, 1)
	m := accepted.Contract.Milestones[0]

	_, err = h.Milestones.UpdateStatus(context.Background(), m.ID, "free-1", milestone.StatusInProgress)
	require.ErrorIs(t, err, apperr.ErrInvalidState, "contract is still pending")
	assert.Equal(t, milestone.StatusPending, h.Store.Milestone(m.ID).Status)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})

	_, err := h.Milestones.UpdateStatus(context.Background(), "m-1", "free-1", milestone.Status("shipped"))
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateStatusUnknownMilestone(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})

	_, err := h.Milestones.UpdateStatus(context.Background(), "missing", "free-1", milestone.StatusInProgress)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateRenumbersByDueDate(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, ms := h.Engage(t, "proj-1", "client-1", "free-1", "1000", "2 weeks")
	require.Len(t, ms, 3)
	ctx := context.Background()

	got, err := h.Milestones.Create(ctx, c.ID, "client-1", milestone.CreateParams{
		Title:   " Kickoff review ",
		Amount:  decimal.RequireFromString("150"),
		DueDate: c.StartDate.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "Kickoff review", got.Title)
	assert.Equal(t, 1, got.OrderIndex)
	assert.Equal(t, milestone.StatusPending, got.Status)

	all := h.Store.MilestonesOf(c.ID)
	require.Len(t, all, 4)
	for i, m := range all {
		assert.Equal(t, i+1, m.OrderIndex, m.Title)
	}
	assert.Equal(t, []string{"milestone_created"}, kindsOf(h.Notifier.For("free-1"), "milestone_created"))
}

func TestCreateValidation(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, _ := h.Engage(t, "proj-1", "client-1", "free-1", "1000", "2 weeks")
	ctx := context.Background()
	valid := milestone.CreateParams{
		Title:   "Extra",
		Amount:  decimal.NewFromInt(10),
		DueDate: c.EndDate,
	}

	cases := []struct {
		name       string
		contractID string
		user       string
		mutate     func(p *milestone.CreateParams)
		want       error
	}{
		{"freelancer", c.ID, "free-1", nil, apperr.ErrUnauthorized},
		{"unknown contract", "nope", "client-1", nil, apperr.ErrNotFound},
		{"blank title", c.ID, "client-1", func(p *milestone.CreateParams) { p.Title = "  " }, apperr.ErrValidation},
		{"zero amount", c.ID, "client-1", func(p *milestone.CreateParams) { p.Amount = decimal.Zero }, apperr.ErrValidation},
		{"no due date", c.ID, "client-1", func(p *milestone.CreateParams) { p.DueDate = time.Time{} }, apperr.ErrValidation},
		{"before start", c.ID, "client-1", func(p *milestone.CreateParams) { p.DueDate = c.StartDate.AddDate(0, 0, -1) }, apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := valid
			if tc.mutate != nil {
				tc.mutate(&params)
			}
			_, err := h.Milestones.Create(ctx, tc.contractID, tc.user, params)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Len(t, h.Store.MilestonesOf(c.ID), 3)
}

func TestCreateOnClosedContract(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, _ := h.Engage(t, "proj-1", "client-1", "free-1", "1000", "2 weeks")
	_, err := h.Contracts.Complete(context.Background(), c.ID, "client-1")
	require.NoError(t, err)
	require.Equal(t, contract.StatusCompleted, h.Store.Contract(c.ID).Status)

	_, err = h.Milestones.Create(context.Background(), c.ID, "client-1", milestone.CreateParams{
		Title:   "Late addition",
		Amount:  decimal.NewFromInt(10),
		DueDate: c.EndDate,
	})
	require.ErrorIs(t, err, apperr.ErrInvalidState)
}

func kindsOf(notices []event.Notice, kind string) []string {
	var out []string
	for _, n := range notices {
		if n.Kind == kind {
			out = append(out, n.Kind)
		}
	}
	return out
}
