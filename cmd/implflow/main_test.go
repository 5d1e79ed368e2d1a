package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeService answers the plan gate and finishes the session.
type fakeService struct {
	workflow.Service

	mu       sync.Mutex
	answered []workflow.Answer
}

func (f *fakeService) Respond(_ context.Context, id string, gate workflow.GateID, answer workflow.Answer) (*workflow.Session, error) {
	f.mu.Lock()
	f.answered = append(f.answered, answer)
	f.mu.Unlock()

	s := workflow.NewSession(id, "101", now)
	s.Status = workflow.StatusUpdated
	s.Phase = workflow.PhaseUpdateWorkItem
	return s, nil
}

func awaitingPlan() *workflow.Session {
	s := workflow.NewSession("sess-1", "101", now)
	s.Phase = workflow.PhaseConfirmPlan
	s.Status = workflow.StatusAwaitingConfirmation
	s.Await = workflow.AwaitAnswer
	s.Gates[workflow.GatePlanApproval] = &workflow.Gate{
		ID:       workflow.GatePlanApproval,
		Question: "Proceed with implementation?",
		State:    workflow.GatePending,
		AskedAt:  now,
	}
	return s
}

func TestDrive_AnswersPendingGate(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer

	err := drive(context.Background(), svc, awaitingPlan(), strings.NewReader("y"), &out)
	require.NoError(t, err)

	assert.Equal(t, []workflow.Answer{workflow.AnswerYes}, svc.answered)
	assert.Contains(t, out.String(), "AwaitingConfirmation")
	assert.Contains(t, out.String(), "Updated")
}

func TestDrive_FinishedSessionReturnsImmediately(t *testing.T) {
	s := awaitingPlan()
	require.NoError(t, s.Abandon(now))

	var out bytes.Buffer
	require.NoError(t, drive(context.Background(), &fakeService{}, s, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "Failed")
}

func TestPrintList(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printList(&out, nil))
	assert.Equal(t, "No sessions found.\n", out.String())

	out.Reset()
	require.NoError(t, printList(&out, []*workflow.Session{awaitingPlan()}))
	assert.Contains(t, out.String(), "sess-1")
	assert.Contains(t, out.String(), "confirm_plan")
}

func TestPrintSession_JSON(t *testing.T) {
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	var out bytes.Buffer
	require.NoError(t, printSession(&out, awaitingPlan()))
	assert.Contains(t, out.String(), `"id": "sess-1"`)
	assert.Contains(t, out.String(), `"status": "AwaitingConfirmation"`)
}

func TestRunRequiresTaskOrSession(t *testing.T) {
	rootCmd.SetArgs([]string{"run"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either a work item or --session")
}
