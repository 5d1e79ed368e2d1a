package durable

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	wf "github.com/fyrsmithlabs/implflow/internal/workflow"
)

// Signal and query names.
const (
	SignalGateResponse = "gate-response"
	SignalResume       = "resume"
	SignalRevise       = "revise"
	SignalAbandon      = "abandon"
	QueryStatus        = "status"
)

// DefaultStepTimeout bounds one phase, including a command-mode agent run.
const DefaultStepTimeout = 2 * time.Hour

// Input starts an ImplementationWorkflow.
type Input struct {
	SessionID   string        `json:"session_id"`
	Task        wf.TaskRef    `json:"task"`
	StepTimeout time.Duration `json:"step_timeout,omitempty"`
}

// GateResponse is the gate-response signal payload. An empty Gate answers
// the pending gate.
type GateResponse struct {
	Gate   wf.GateID `json:"gate,omitempty"`
	Answer wf.Answer `json:"answer"`
}

// ReviseRequest is the revise signal payload.
type ReviseRequest struct {
	Notes string `json:"notes"`
}

// StatusView is returned by the status query. Signals counts the signals
// the workflow has handled, so a caller can wait for its own to land.
type StatusView struct {
	Session         *wf.Session `json:"session"`
	Signals         int         `json:"signals"`
	LastSignalError string      `json:"last_signal_error,omitempty"`
}

// WorkflowID is the Temporal workflow id for a session.
func WorkflowID(sessionID string) string {
	return "implflow-session-" + sessionID
}

// ImplementationWorkflow drives one session until it is done.
func ImplementationWorkflow(ctx workflow.Context, in Input) (*wf.Session, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Session workflow started", "session", in.SessionID, "task", in.Task)

	s := wf.NewSession(in.SessionID, in.Task, workflow.Now(ctx))
	view := StatusView{}
	if err := workflow.SetQueryHandler(ctx, QueryStatus, func() (StatusView, error) {
		return StatusView{Session: s, Signals: view.Signals, LastSignalError: view.LastSignalError}, nil
	}); err != nil {
		return nil, fmt.Errorf("registering status query: %w", err)
	}

	timeout := in.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	// Phases record external failures on the session and wait for an
	// explicit resume, so activities are never retried.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var a *Activities
	seen := 0
	record := func() error {
		err := workflow.ExecuteActivity(ctx, a.Record, RecordInput{Session: s, Seen: seen}).Get(ctx, nil)
		seen = len(s.History)
		return err
	}
	if err := record(); err != nil {
		return s, err
	}

	gateCh := workflow.GetSignalChannel(ctx, SignalGateResponse)
	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	reviseCh := workflow.GetSignalChannel(ctx, SignalRevise)
	abandonCh := workflow.GetSignalChannel(ctx, SignalAbandon)

	for !s.Done() {
		if s.Runnable() {
			var next wf.Session
			if err := workflow.ExecuteActivity(ctx, a.Step, s).Get(ctx, &next); err != nil {
				logger.Error("Step failed", "phase", s.Phase, "error", err)
				return s, err
			}
			s = &next
			seen = len(s.History)
			continue
		}

		var applied error
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(gateCh, func(c workflow.ReceiveChannel, _ bool) {
			var r GateResponse
			c.Receive(ctx, &r)
			gate := r.Gate
			if gate == "" {
				if g := s.PendingGate(); g != nil {
					gate = g.ID
				}
			}
			applied = s.Answer(gate, r.Answer, workflow.Now(ctx))
		})
		sel.AddReceive(resumeCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, nil)
			applied = s.RequestResume(workflow.Now(ctx))
		})
		sel.AddReceive(reviseCh, func(c workflow.ReceiveChannel, _ bool) {
			var r ReviseRequest
			c.Receive(ctx, &r)
			applied = s.Revise(r.Notes, workflow.Now(ctx))
		})
		sel.AddReceive(abandonCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, nil)
			applied = s.Abandon(workflow.Now(ctx))
		})
		sel.Select(ctx)

		view.Signals++
		if applied != nil {
			view.LastSignalError = applied.Error()
			logger.Warn("Signal rejected", "status", s.Status, "error", applied)
			continue
		}
		view.LastSignalError = ""
		if err := record(); err != nil {
			return s, err
		}
	}

	logger.Info("Session workflow finished", "status", s.Status, "abandoned", s.Abandoned)
	return s, nil
}
