package event_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engageflow/event"
	"engageflow/logger"
	"engageflow/metrics"
	"engageflow/project"
	"engageflow/testkit"
)

type fixture struct {
	store    *testkit.Store
	pool     *testkit.Pool
	notifier *testkit.Notifier
	mailer   *testkit.Mailer
	outbox   *testkit.Outbox
}

func newFixture() *fixture {
	store := testkit.NewStore()
	store.PutProject(project.Project{ID: "proj-1", ClientID: "client-1", Status: project.StatusPublished})
	store.Emails["client-1"] = "client@example.com"
	return &fixture{
		store:    store,
		pool:     testkit.NewPool(store),
		notifier: &testkit.Notifier{FailFor: map[string]error{}},
		mailer:   &testkit.Mailer{},
		outbox:   &testkit.Outbox{},
	}
}

func (f *fixture) runner(t *testing.T, bestEffort bool) *event.Runner {
	d := event.NewDispatcher(f.notifier, f.mailer, testkit.NewDirectory(f.store), logger.NewTestLogger(t)).
		WithBestEffortNotifications(bestEffort)
	return event.NewRunner(f.pool, f.outbox, d)
}

func startProject(f *fixture) event.Work {
	repos := testkit.NewRepos(f.store)
	return func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		if _, err := repos.Projects.UpdateStatus(ctx, tx, "proj-1", project.StatusInProgress); err != nil {
			return nil, err
		}
		return []event.Event{{
			Type:        event.ProjectStarted,
			AggregateID: "proj-1",
			Notices:     []event.Notice{{UserID: "client-1", Kind: "project_started", Title: "Started"}},
			Emails:      []event.Email{{UserID: "client-1", Template: "project-started"}, {UserID: "ghost", Template: "project-started"}},
		}}, nil
	}
}

func TestRunCommitsEnqueuesAndDispatches(t *testing.T) {
	f := newFixture()
	err := f.runner(t, false).Run(context.Background(), startProject(f))
	require.NoError(t, err)

	assert.Equal(t, project.StatusInProgress, f.store.Project("proj-1").Status)
	assert.Equal(t, []event.Type{event.ProjectStarted}, f.outbox.Types())
	assert.Equal(t, []string{"project_started"}, f.notifier.Kinds())
	require.Len(t, f.mailer.Sent, 1, "unknown recipients are skipped")
	assert.Equal(t, "client@example.com", f.mailer.Sent[0].Address)
}

func TestRunRollsBackOnWorkError(t *testing.T) {
	f := newFixture()
	boom := errors.New("boom")
	repos := testkit.NewRepos(f.store)

	err := f.runner(t, false).Run(context.Background(), func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		if _, err := repos.Projects.UpdateStatus(ctx, tx, "proj-1", project.StatusInProgress); err != nil {
			return nil, err
		}
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, project.StatusPublished, f.store.Project("proj-1").Status)
	assert.Empty(t, f.outbox.Events)
	assert.Empty(t, f.notifier.Notices)
}

func TestRunRollsBackWhenOutboxFails(t *testing.T) {
	f := newFixture()
	f.outbox.Err = errors.New("outbox table missing")

	err := f.runner(t, false).Run(context.Background(), startProject(f))
	require.Error(t, err)
	assert.Equal(t, project.StatusPublished, f.store.Project("proj-1").Status)
	assert.Empty(t, f.notifier.Notices)
}

func TestNotificationFailureIsReturnedAfterCommit(t *testing.T) {
	f := newFixture()
	f.notifier.FailFor["project_started"] = errors.New("sink down")

	err := f.runner(t, false).Run(context.Background(), startProject(f))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, project.StatusInProgress, f.store.Project("proj-1").Status, "state change stays committed")
	assert.Len(t, f.outbox.Events, 1)
	assert.Empty(t, f.mailer.Sent)
}

func TestNotificationFailureKeepsEarlierEventEmails(t *testing.T) {
	f := newFixture()
	f.notifier.FailFor["contract_created"] = errors.New("sink down")

	work := func(ctx context.Context, tx pgx.Tx) ([]event.Event, error) {
		return []event.Event{
			{
				Type:    event.ProposalRejected,
				Notices: []event.Notice{{UserID: "client-1", Kind: "proposal_rejected"}},
				Emails:  []event.Email{{UserID: "client-1", Template: "proposal-rejected"}},
			},
			{
				Type:    event.ContractCreated,
				Notices: []event.Notice{{UserID: "client-1", Kind: "contract_created"}},
				Emails:  []event.Email{{UserID: "client-1", Template: "contract-created"}},
			},
		}, nil
	}

	err := f.runner(t, false).Run(context.Background(), work)
	require.Error(t, err)
	assert.Equal(t, []string{"proposal_rejected"}, f.notifier.Kinds())
	require.Len(t, f.mailer.Sent, 1)
	assert.Equal(t, "proposal-rejected", f.mailer.Sent[0].Template)
}

func TestBestEffortNotificationsAreSwallowed(t *testing.T) {
	f := newFixture()
	f.notifier.FailFor["project_started"] = errors.New("sink down")

	err := f.runner(t, true).Run(context.Background(), startProject(f))
	require.NoError(t, err)
	assert.Len(t, f.mailer.Sent, 1)
}

func TestEmailFailureNeverSurfaces(t *testing.T) {
	f := newFixture()
	f.mailer.Err = errors.New("ses throttled")

	err := f.runner(t, false).Run(context.Background(), startProject(f))
	require.NoError(t, err)
	assert.Equal(t, []string{"project_started"}, f.notifier.Kinds())
}

func TestBeginFailure(t *testing.T) {
	f := newFixture()
	f.pool.BeginErr = errors.New("pool closed")

	err := f.runner(t, false).Run(context.Background(), startProject(f))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestTransitionsCountOnlyAfterCommit(t *testing.T) {
	counter := metrics.Transitions.WithLabelValues("runner_check", "open", "closed")
	before := testutil.ToFloat64(counter)

	record := func(fail error) event.Work {
		return func(ctx context.Context, _ pgx.Tx) ([]event.Event, error) {
			event.RecordTransition(ctx, "runner_check", "open", "closed")
			return nil, fail
		}
	}

	f := newFixture()
	r := f.runner(t, false)
	require.Error(t, r.Run(context.Background(), record(errors.New("boom"))))
	assert.Equal(t, before, testutil.ToFloat64(counter))

	f.store.CommitErr = errors.New("commit lost")
	require.Error(t, r.Run(context.Background(), record(nil)))
	assert.Equal(t, before, testutil.ToFloat64(counter))

	f.store.CommitErr = nil
	require.NoError(t, r.Run(context.Background(), record(nil)))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	// outside a runner nothing is recorded
	event.RecordTransition(context.Background(), "runner_check", "open", "closed")
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
