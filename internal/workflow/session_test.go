package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestNewSession(t *testing.T) {
	s := NewSession("s1", "101", t0)
	assert.Equal(t, PhasePrerequisites, s.Phase)
	assert.True(t, s.Runnable())
	assert.False(t, s.Done())
	assert.Nil(t, s.PendingGate())
	require.NoError(t, s.Validate())
}

func TestSession_Answer(t *testing.T) {
	s := NewSession("s1", "101", t0)
	s.ask(GatePlanApproval, "q?", t0)

	assert.Equal(t, AwaitAnswer, s.Await)
	assert.False(t, s.Runnable())
	assert.Equal(t, StatusAwaitingConfirmation, s.Status)

	require.NoError(t, s.Answer(GatePlanApproval, AnswerYes, t0.Add(time.Minute)))
	assert.True(t, s.Approved(GatePlanApproval))
	assert.True(t, s.Runnable())
	require.NotNil(t, s.Gate(GatePlanApproval).AnsweredAt)

	// Answering twice is rejected.
	assert.ErrorIs(t, s.Answer(GatePlanApproval, AnswerNo, t0), ErrGateNotPending)
}

func TestSession_RequestResume(t *testing.T) {
	s := NewSession("s1", "101", t0)
	assert.ErrorIs(t, s.RequestResume(t0), ErrNotResumable)

	s.fail(newError(KindExternal, PhaseUnderstand, nil, "boom"), t0)
	assert.Equal(t, StatusFailed, s.Status)
	require.NoError(t, s.RequestResume(t0))
	assert.True(t, s.ResumeRequested)
	assert.True(t, s.Runnable())
}

func TestSession_Revise(t *testing.T) {
	s := NewSession("s1", "101", t0)
	assert.ErrorIs(t, s.Revise("x", t0), ErrNotRevisable)

	s.Phase = PhaseConfirmPlan
	s.Plan = &Plan{Title: "old"}
	s.ask(GatePlanApproval, "q?", t0)
	require.NoError(t, s.Revise("smaller scope", t0))
	assert.Equal(t, PhasePlan, s.Phase)
	assert.Nil(t, s.Plan)
	assert.Nil(t, s.Gate(GatePlanApproval))
	assert.Equal(t, "smaller scope", s.RevisionNotes)

	s.Phase = PhaseConfirmPlan
	s.ask(GatePlanApproval, "q?", t0)
	require.NoError(t, s.Answer(GatePlanApproval, AnswerYes, t0))
	assert.ErrorIs(t, s.Revise("late", t0), ErrNotRevisable)
}

func TestSession_Abandon(t *testing.T) {
	s := NewSession("s1", "101", t0)
	require.NoError(t, s.Abandon(t0))
	assert.True(t, s.Done())
	assert.False(t, s.Runnable())
	assert.ErrorIs(t, s.Abandon(t0), ErrSessionDone)
}

func TestSession_DoneStates(t *testing.T) {
	s := NewSession("s1", "101", t0)
	s.setStatus(StatusBlocked, "", t0)
	s.LastError = &ErrorInfo{Kind: KindGateDenied}
	assert.False(t, s.Done(), "a denied plan can still be revised")

	s.LastError = &ErrorInfo{Kind: KindMissingPrerequisite}
	assert.True(t, s.Done())

	s = NewSession("s2", "101", t0)
	s.setStatus(StatusUpdated, "", t0)
	assert.True(t, s.Done())
}

func TestSession_ValidateInvariants(t *testing.T) {
	s := NewSession("s1", "101", t0)
	s.ChangeSet = changes()
	assert.ErrorIs(t, s.Validate(), ErrGateNotApproved)

	s.Gates[GatePlanApproval] = &Gate{ID: GatePlanApproval, State: GateApproved}
	require.NoError(t, s.Validate())

	s.Commit = &CommitRecord{Hash: "abc"}
	assert.ErrorIs(t, s.Validate(), ErrGateNotApproved)
	s.Gates[GateCommitApproval] = &Gate{ID: GateCommitApproval, State: GateApproved}
	require.NoError(t, s.Validate())

	s.Updates = []Comment{{Title: PlanCommentTitle}}
	assert.Error(t, s.Validate())
	s.Validation = &ValidationResult{Passed: true}
	require.NoError(t, s.Validate())
}

func TestSession_HistoryRecordsChangesOnly(t *testing.T) {
	s := NewSession("s1", "101", t0)
	s.setStatus(StatusImplementing, "a", t0)
	s.setStatus(StatusImplementing, "b", t0)
	s.setStatus(StatusValidated, "c", t0)

	require.Len(t, s.History, 2)
	assert.Equal(t, StatusImplementing, s.History[1].From)
	assert.Equal(t, StatusValidated, s.History[1].To)
}

func TestError_Is(t *testing.T) {
	err := newError(KindBranchMismatch, PhaseConfirmPlan, nil, "on %s", "main")
	assert.ErrorIs(t, err, ErrBranchMismatch)
	assert.NotErrorIs(t, err, ErrGateDenied)
	assert.Equal(t, "BranchMismatch in confirm_plan: on main", err.Error())
}

func TestParseAnswer(t *testing.T) {
	for in, want := range map[string]Answer{"yes": AnswerYes, "Y": AnswerYes, " no ": AnswerNo, "N": AnswerNo} {
		got, err := ParseAnswer(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseAnswer("sure")
	assert.ErrorIs(t, err, ErrInvalidAnswer)
}
