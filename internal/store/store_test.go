package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func session(id string, task workflow.TaskRef, updated time.Time) *workflow.Session {
	s := workflow.NewSession(id, task, base)
	s.UpdatedAt = updated
	return s
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestStore_SaveGet(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	sess := session("s1", "101", base)
	sess.Branch = "feature/101"
	sess.Plan = &workflow.Plan{Title: "Add login rate limiting", Steps: []string{"a", "b"}}
	sess.Gates[workflow.GatePlanApproval] = &workflow.Gate{
		ID:       workflow.GatePlanApproval,
		Question: "Proceed?",
		State:    workflow.GatePending,
		AskedAt:  base,
	}
	require.NoError(t, st.Save(ctx, sess))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "feature/101", got.Branch)
	assert.Equal(t, []string{"a", "b"}, got.Plan.Steps)
	assert.Equal(t, workflow.GatePending, got.Gate(workflow.GatePlanApproval).State)
	assert.True(t, got.CreatedAt.Equal(base))

	sess.Branch = "feature/101-v2"
	require.NoError(t, st.Save(ctx, sess))
	got, err = st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "feature/101-v2", got.Branch)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := newStore(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, workflow.ErrSessionNotFound)
}

func TestStore_ListAndActive(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	finished := session("old", "101", base.Add(time.Minute))
	require.NoError(t, finished.Abandon(base.Add(time.Minute)))
	require.NoError(t, st.Save(ctx, finished))

	active := session("new", "101", base.Add(2*time.Minute))
	require.NoError(t, st.Save(ctx, active))
	require.NoError(t, st.Save(ctx, session("other", "202", base.Add(3*time.Minute))))

	all, err := st.List(ctx, workflow.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "other", all[0].ID)

	byTask, err := st.List(ctx, workflow.ListFilter{Task: "101"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	failed, err := st.List(ctx, workflow.ListFilter{Status: workflow.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "old", failed[0].ID)

	limited, err := st.List(ctx, workflow.ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := st.ActiveForTask(ctx, "101")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.ID)

	none, err := st.ActiveForTask(ctx, "303")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_Transitions(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	sess := session("s1", "101", base)
	sess.History = []workflow.Transition{
		{To: workflow.StatusAwaitingConfirmation, Phase: workflow.PhasePlan, Reason: "plan-approval", At: base},
	}
	require.NoError(t, st.Save(ctx, sess))

	sess.History = append(sess.History, workflow.Transition{
		From: workflow.StatusAwaitingConfirmation, To: workflow.StatusImplementing,
		Phase: workflow.PhaseConfirmPlan, Reason: "plan approved", At: base.Add(time.Second),
	})
	require.NoError(t, st.Save(ctx, sess))

	got, err := st.Transitions(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, workflow.StatusImplementing, got[1].To)
	assert.Equal(t, "plan approved", got[1].Reason)
	assert.True(t, got[1].At.Equal(base.Add(time.Second)))
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	sess := session("s1", "101", base)
	sess.History = []workflow.Transition{{To: workflow.StatusBlocked, At: base}}
	require.NoError(t, st.Save(ctx, sess))
	require.NoError(t, st.Delete(ctx, "s1"))

	_, err := st.Get(ctx, "s1")
	assert.ErrorIs(t, err, workflow.ErrSessionNotFound)
	transitions, err := st.Transitions(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, transitions)

	assert.ErrorIs(t, st.Delete(ctx, "s1"), workflow.ErrSessionNotFound)
}

// The controller runs unchanged on the SQLite store.
func TestStore_WithController(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	engine, err := workflow.NewEngine(workflow.Collaborators{
		Source:        nopSource{},
		Runner:        nopRunner{},
		Implementer:   nopImplementer{},
		Prerequisites: missing{"docs/ARCHITECTURE.md"},
	}, workflow.Settings{})
	require.NoError(t, err)
	ctrl, err := workflow.NewController(engine, st, workflow.ControllerConfig{})
	require.NoError(t, err)

	sess, err := ctrl.Begin(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusBlocked, sess.Status)

	stored, err := st.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.Done())

	active, err := st.ActiveForTask(ctx, "101")
	require.NoError(t, err)
	assert.Nil(t, active)
}

type nopSource struct{}

func (nopSource) Fetch(context.Context, workflow.TaskRef) (*workflow.WorkItem, error) { return nil, nil }
func (nopSource) PostComment(context.Context, workflow.TaskRef, string) error       { return nil }

type nopRunner struct{}

func (nopRunner) Run(context.Context, []string) ([]workflow.CommandResult, bool) { return nil, true }

type nopImplementer struct{}

func (nopImplementer) Implement(context.Context, workflow.ImplementRequest) (*workflow.ChangeSet, error) {
	return nil, workflow.ErrImplementationPending
}

type missing []string

func (m missing) Missing(context.Context, []string) ([]string, error) { return m, nil }
