package cascade_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engageflow/contract"
	"engageflow/event"
	"engageflow/milestone"
	"engageflow/project"
	"engageflow/testkit"
)

func TestLastMilestoneCompletesContractAndProject(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, ms := h.Engage(t, "proj-1", "client-1", "free-1", "900", "2 weeks")
	require.Len(t, ms, 3)

	for _, m := range ms[:2] {
		h.Complete(t, m, "free-1")
	}
	assert.Equal(t, contract.StatusActive, h.Store.Contract(c.ID).Status)
	assert.Equal(t, 0, h.Outbox.Count(event.ContractCompleted))

	h.Complete(t, ms[2], "free-1")

	assert.Equal(t, contract.StatusCompleted, h.Store.Contract(c.ID).Status)
	assert.Equal(t, project.StatusCompleted, h.Store.Project("proj-1").Status)
	assert.Equal(t, 1, h.Outbox.Count(event.ContractCompleted))
	assert.Equal(t, 1, h.Outbox.Count(event.ProjectCompleted))
	for _, user := range []string{"client-1", "free-1"} {
		assert.Equal(t, 1, count(h.Notifier.For(user), "contract_completed"), user)
		assert.Equal(t, 1, count(h.Notifier.For(user), "project_completed"), user)
	}
	assert.Equal(t, 2, h.Mailer.Templates()["project-completed"])
}

func TestRecheckIsIdempotent(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, ms := h.Engage(t, "proj-1", "client-1", "free-1", "300", "")
	require.Len(t, ms, 1)
	h.Complete(t, ms[0], "free-1")
	before := len(h.Outbox.Events)

	events, err := h.Cascade.Recheck(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Len(t, h.Outbox.Events, before)
	assert.Equal(t, 1, h.Outbox.Count(event.ContractCompleted))
}

func TestRecheckCompletesStraggler(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, ms := h.Engage(t, "proj-1", "client-1", "free-1", "300", "")
	done := ms[0]
	done.Status = milestone.StatusCompleted
	h.Store.PutMilestone(done)

	events, err := h.Cascade.Recheck(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, event.ContractCompleted, events[0].Type)
	assert.Equal(t, event.ProjectCompleted, events[1].Type)
	assert.Equal(t, contract.StatusCompleted, h.Store.Contract(c.ID).Status)
}

func TestPaidMilestonesDoNotSatisfyCompletion(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, ms := h.Engage(t, "proj-1", "client-1", "free-1", "1000", "1 week")
	require.Len(t, ms, 2)
	ctx := context.Background()

	h.Complete(t, ms[0], "free-1")
	req, err := h.Payments.Create(ctx, c.ID, ms[0].ID, "free-1", decimal.Zero)
	require.NoError(t, err)
	_, err = h.Payments.Approve(ctx, req.ID, "client-1")
	require.NoError(t, err)
	_, err = h.Payments.Process(ctx, req.ID, "card", "gw-1")
	require.NoError(t, err)
	require.Equal(t, milestone.StatusPaid, h.Store.Milestone(ms[0].ID).Status)

	h.Complete(t, ms[1], "free-1")

	assert.Equal(t, contract.StatusActive, h.Store.Contract(c.ID).Status)
	assert.Equal(t, project.StatusInProgress, h.Store.Project("proj-1").Status)
	assert.Equal(t, 0, h.Outbox.Count(event.ContractCompleted))
}

func TestProjectWaitsForEveryContract(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	first, firstMs := h.Engage(t, "proj-1", "client-1", "free-1", "300", "")
	ctx := context.Background()

	h.RegisterEmail("free-2")
	second, err := h.Contracts.CreateFromProposal(ctx, contract.FromProposalParams{
		ProposalID:     "prop-extra",
		ProposalStatus: "accepted",
		ProjectID:      "proj-1",
		ClientID:       "client-1",
		FreelancerID:   "free-2",
		Title:          "Second track",
		Amount:         decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	_, err = h.Contracts.Accept(ctx, second.Contract.ID, "free-2")
	require.NoError(t, err)

	h.Complete(t, firstMs[0], "free-1")
	assert.Equal(t, contract.StatusCompleted, h.Store.Contract(first.ID).Status)
	assert.Equal(t, project.StatusInProgress, h.Store.Project("proj-1").Status)

	h.Complete(t, h.Store.MilestonesOf(second.Contract.ID)[0], "free-2")
	assert.Equal(t, project.StatusCompleted, h.Store.Project("proj-1").Status)
	assert.Equal(t, 1, h.Outbox.Count(event.ProjectCompleted))

	for _, user := range []string{"client-1", "free-1", "free-2"} {
		assert.Equal(t, 1, count(h.Notifier.For(user), "project_completed"), user)
	}
	assert.Equal(t, 3, h.Mailer.Templates()["project-completed"])
}

func TestManuallyCompletedSiblingCountsTowardProject(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	_, firstMs := h.Engage(t, "proj-1", "client-1", "free-1", "300", "")
	ctx := context.Background()

	second, err := h.Contracts.CreateFromProposal(ctx, contract.FromProposalParams{
		ProposalID:     "prop-extra",
		ProposalStatus: "accepted",
		ProjectID:      "proj-1",
		ClientID:       "client-1",
		FreelancerID:   "free-2",
		Amount:         decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	_, err = h.Contracts.Accept(ctx, second.Contract.ID, "free-2")
	require.NoError(t, err)
	_, err = h.Contracts.Complete(ctx, second.Contract.ID, "client-1")
	require.NoError(t, err)
	require.Equal(t, project.StatusInProgress, h.Store.Project("proj-1").Status)

	h.Complete(t, firstMs[0], "free-1")
	assert.Equal(t, project.StatusCompleted, h.Store.Project("proj-1").Status)
}

func TestConcurrentSiblingCompletionsCascadeOnce(t *testing.T) {
	h := testkit.NewHarness(t, testkit.Options{})
	c, ms := h.Engage(t, "proj-1", "client-1", "free-1", "1200", "3 weeks")
	require.Len(t, ms, 4)
	ctx := context.Background()
	for _, m := range ms {
		_, err := h.Milestones.UpdateStatus(ctx, m.ID, "free-1", milestone.StatusInProgress)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ms))
	for _, m := range ms {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.Milestones.UpdateStatus(ctx, id, "free-1", milestone.StatusCompleted)
			errs <- err
		}(m.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, contract.StatusCompleted, h.Store.Contract(c.ID).Status)
	assert.Equal(t, 1, h.Outbox.Count(event.ContractCompleted))
	assert.Equal(t, 1, h.Outbox.Count(event.ProjectCompleted))
}

func count(notices []event.Notice, kind string) int {
	n := 0
	for _, notice := range notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}
