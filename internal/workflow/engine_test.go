package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/telemetry"
)

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Collaborators{}, Settings{})
	assert.Error(t, err)

	_, err = NewEngine(Collaborators{Source: &MockSource{}}, Settings{})
	assert.Error(t, err)

	_, err = NewEngine(Collaborators{Source: &MockSource{}, Runner: &MockRunner{}}, Settings{})
	assert.Error(t, err)

	e, err := NewEngine(Collaborators{Source: &MockSource{}, Runner: &MockRunner{}, Implementer: &MockImplementer{}}, Settings{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBranchTemplate, e.settings.BranchTemplate)
	assert.Equal(t, "origin", e.settings.Remote)
}

func TestEngine_StepRefusesSuspendedSession(t *testing.T) {
	h := newHarness(t)
	s := NewSession("s1", "101", h.clock.Now())
	s.Await = AwaitAnswer
	assert.Error(t, h.engine.Step(context.Background(), s))

	s.Await = AwaitNothing
	s.Abandoned = true
	assert.ErrorIs(t, h.engine.Step(context.Background(), s), ErrSessionDone)
}

func TestEngine_ImplementRequiresApprovedPlan(t *testing.T) {
	h := newHarness(t)
	s := NewSession("s1", "101", h.clock.Now())
	s.Phase = PhaseImplement

	err := h.engine.Step(context.Background(), s)
	assert.ErrorIs(t, err, ErrGateNotApproved)
	h.impl.AssertNotCalled(t, "Implement", mock.Anything, mock.Anything)
}

func TestEngine_ValidateUsesFreshSnapshot(t *testing.T) {
	h := newHarness(t)
	updated := item101()
	updated.Revision = 4
	updated.AcceptanceCriteria = append(updated.AcceptanceCriteria, "Lockout lasts 15 minutes")
	h.source.On("Fetch", mock.Anything, TaskRef("101")).Return(updated, nil).Once()
	h.runner.On("Run", mock.Anything, []string{testValidation}).Return(passing(), true).Once()

	s := NewSession("s1", "101", h.clock.Now())
	s.Gates[GatePlanApproval] = &Gate{ID: GatePlanApproval, State: GateApproved}
	s.Phase = PhaseValidate
	s.Branch = "feature/101"
	s.ChangeSet = changes()

	require.NoError(t, h.engine.Step(context.Background(), s))
	require.NotNil(t, s.Validation)
	require.Len(t, s.Validation.Acceptance, 2)
	assert.Equal(t, "Lockout lasts 15 minutes", s.Validation.Acceptance[1].Criterion)
	assert.True(t, s.Validation.Passed)
}

func TestEngine_EmptyChangeSetFailsValidation(t *testing.T) {
	h := newHarness(t)
	h.source.On("Fetch", mock.Anything, TaskRef("101")).Return(item101(), nil).Once()
	h.runner.On("Run", mock.Anything, []string{testValidation}).Return(passing(), true).Once()

	s := NewSession("s1", "101", h.clock.Now())
	s.Gates[GatePlanApproval] = &Gate{ID: GatePlanApproval, State: GateApproved}
	s.Phase = PhaseValidate
	s.ChangeSet = &ChangeSet{Enumerated: true}

	require.NoError(t, h.engine.Step(context.Background(), s))
	assert.False(t, s.Validation.Passed)
	assert.Equal(t, PhaseImplement, s.Phase)
	assert.Contains(t, s.Validation.Report, "Five failed logins lock the account")
}

func TestEngine_ScrubsCommandOutput(t *testing.T) {
	h := newHarness(t, withScrubber(replaceScrubber{secret: "hunter2"}))
	h.source.On("Fetch", mock.Anything, TaskRef("101")).Return(item101(), nil).Once()
	h.runner.On("Run", mock.Anything, []string{testValidation}).Return([]CommandResult{{
		Command:  testValidation,
		Output:   "dial postgres://app:hunter2@db failed",
		ExitCode: 1,
	}}, false).Once()

	s := NewSession("s1", "101", h.clock.Now())
	s.Gates[GatePlanApproval] = &Gate{ID: GatePlanApproval, State: GateApproved}
	s.Phase = PhaseValidate
	s.ChangeSet = changes()

	require.NoError(t, h.engine.Step(context.Background(), s))
	assert.NotContains(t, s.Validation.Report, "hunter2")
	assert.Contains(t, s.Validation.Report, "REDACTED")
	assert.NotContains(t, s.Message, "hunter2")
}

func TestEngine_TracesAndLogsPhases(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	logger := logging.NewTestLogger()
	metrics := NewMetrics(tel.Meter(instrumentationName), nil)

	h := newHarness(t, withEngineOptions(
		WithTracer(tel.Tracer(instrumentationName)),
		WithLogger(logger.Logger),
		WithMetrics(metrics),
	))
	h.onBranch("feature/101")
	h.source.On("Fetch", mock.Anything, TaskRef("101")).Return(item101(), nil)

	_, err := h.ctrl.Begin(context.Background(), "101")
	require.NoError(t, err)

	assert.Equal(t, []string{"workflow.prerequisites_check", "workflow.understand", "workflow.plan"}, tel.SpanNames())
	assert.Equal(t, int64(3), tel.SumInt64(t, "implflow.workflow.phase_runs_total"))
	logger.AssertLogged(t, zapcore.InfoLevel, "phase finished")
	logger.AssertField(t, "phase finished", "session.id", "sess-1")
}

func TestReviewAcceptance(t *testing.T) {
	criteria := []string{"a", "b"}

	checks, ok := reviewAcceptance(criteria, changes(), true)
	assert.True(t, ok)
	assert.Len(t, checks, 2)

	_, ok = reviewAcceptance(criteria, changes(), false)
	assert.False(t, ok)

	_, ok = reviewAcceptance(criteria, nil, true)
	assert.False(t, ok)

	_, ok = reviewAcceptance(nil, changes(), true)
	assert.True(t, ok)

	_, ok = reviewAcceptance(nil, &ChangeSet{Enumerated: true}, true)
	assert.False(t, ok)
}

func TestFailureReport_Verbatim(t *testing.T) {
	out := "line one\n\tline two with tab\n"
	report := failureReport([]CommandResult{
		{Command: "make lint", Passed: true, Output: "clean"},
		{Command: "make test", Output: out, ExitCode: 2},
	}, nil)

	assert.Equal(t, "$ make test\nline one\n\tline two with tab\nexit status 2", report)
}
