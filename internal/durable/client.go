package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/logging"
	wf "github.com/fyrsmithlabs/implflow/internal/workflow"
)

// ErrNoStore is returned by List when the client has no session store.
var ErrNoStore = errors.New("listing sessions requires a session store")

// temporalClient is the subset of client.Client used here.
type temporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	TaskQueue string
	// Store is the database the worker journals into. It backs List and
	// the active-session check in Begin.
	Store wf.SessionStore
	NewID func() string
	// PollInterval and SettleTimeout bound how long a call waits for the
	// workflow to reach its next suspension point.
	PollInterval  time.Duration
	SettleTimeout time.Duration
	Logger        *logging.Logger
}

// Client implements workflow.Service by starting, signalling and querying
// ImplementationWorkflow executions.
type Client struct {
	tc     temporalClient
	cfg    ClientConfig
	logger *logging.Logger
}

var _ wf.Service = (*Client)(nil)

// NewClient wraps a Temporal client.
func NewClient(tc temporalClient, cfg ClientConfig) (*Client, error) {
	if tc == nil {
		return nil, errors.New("temporal client is required")
	}
	if cfg.TaskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{tc: tc, cfg: cfg, logger: logger.Named("durable")}, nil
}

// Begin starts a workflow for task and waits for its first suspension.
func (c *Client) Begin(ctx context.Context, task wf.TaskRef) (*wf.Session, error) {
	task = wf.NormalizeTask(task)
	if task == "" {
		return nil, wf.ErrEmptyTask
	}
	if c.cfg.Store != nil {
		active, err := c.cfg.Store.ActiveForTask(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("checking active sessions: %w", err)
		}
		if active != nil {
			return active, fmt.Errorf("%w: session %s for #%s", wf.ErrActiveSession, active.ID, task)
		}
	}

	id := c.cfg.NewID()
	run, err := c.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(id),
		TaskQueue: c.cfg.TaskQueue,
	}, ImplementationWorkflow, Input{SessionID: id, Task: task})
	if err != nil {
		return nil, fmt.Errorf("starting workflow: %w", err)
	}
	c.logger.Info(logging.WithSession(ctx, id, string(task)), "session workflow started",
		zap.String("workflow_id", run.GetID()), zap.String("run_id", run.GetRunID()))
	return c.settle(ctx, id, 0)
}

// Respond signals a gate answer.
func (c *Client) Respond(ctx context.Context, id string, gate wf.GateID, answer wf.Answer) (*wf.Session, error) {
	return c.signal(ctx, id, SignalGateResponse, GateResponse{Gate: gate, Answer: answer}, func(s *wf.Session, now time.Time) error {
		if gate == "" {
			if g := s.PendingGate(); g != nil {
				gate = g.ID
			}
		}
		return s.Answer(gate, answer, now)
	})
}

// Resume signals a resume.
func (c *Client) Resume(ctx context.Context, id string) (*wf.Session, error) {
	return c.signal(ctx, id, SignalResume, nil, func(s *wf.Session, now time.Time) error {
		return s.RequestResume(now)
	})
}

// Revise signals a plan revision.
func (c *Client) Revise(ctx context.Context, id, notes string) (*wf.Session, error) {
	return c.signal(ctx, id, SignalRevise, ReviseRequest{Notes: notes}, func(s *wf.Session, now time.Time) error {
		return s.Revise(notes, now)
	})
}

// Abandon signals the workflow to finish without further action.
func (c *Client) Abandon(ctx context.Context, id string) (*wf.Session, error) {
	return c.signal(ctx, id, SignalAbandon, nil, func(s *wf.Session, now time.Time) error {
		return s.Abandon(now)
	})
}

// Get queries the running workflow, falling back to the store for
// executions Temporal no longer serves.
func (c *Client) Get(ctx context.Context, id string) (*wf.Session, error) {
	view, err := c.status(ctx, id)
	if err == nil && view.Session != nil {
		return view.Session, nil
	}
	if c.cfg.Store != nil {
		return c.cfg.Store.Get(ctx, id)
	}
	if err == nil {
		err = wf.ErrSessionNotFound
	}
	return nil, err
}

// List reads the session store.
func (c *Client) List(ctx context.Context, filter wf.ListFilter) ([]*wf.Session, error) {
	if c.cfg.Store == nil {
		return nil, ErrNoStore
	}
	return c.cfg.Store.List(ctx, filter)
}

// signal checks that apply would be accepted by the current session so
// the caller gets the same errors as the in-process controller, then sends
// the signal and waits for the workflow to handle it.
func (c *Client) signal(ctx context.Context, id, name string, arg interface{}, apply func(*wf.Session, time.Time) error) (*wf.Session, error) {
	view, err := c.status(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Session == nil {
		return nil, wf.ErrSessionNotFound
	}
	probe, err := clone(view.Session)
	if err != nil {
		return nil, err
	}
	if err := apply(probe, time.Now()); err != nil {
		return view.Session, err
	}

	if err := c.tc.SignalWorkflow(ctx, WorkflowID(id), "", name, arg); err != nil {
		return view.Session, fmt.Errorf("signalling %s: %w", name, err)
	}
	c.logger.Info(ctx, "signal sent", zap.String("session.id", id), zap.String("signal", name))
	return c.settle(ctx, id, view.Signals+1)
}

// settle polls the status query until the workflow has handled at least
// signals signals and the session is suspended or done. On timeout it
// returns the latest session.
func (c *Client) settle(ctx context.Context, id string, signals int) (*wf.Session, error) {
	deadline := time.Now().Add(c.cfg.SettleTimeout)
	var last *StatusView
	var lastErr error
	for {
		view, err := c.status(ctx, id)
		if err == nil && view.Session != nil {
			last, lastErr = view, nil
			if view.Signals >= signals && !view.Session.Runnable() {
				if signals > 0 && view.LastSignalError != "" {
					return view.Session, errors.New(view.LastSignalError)
				}
				return view.Session, nil
			}
		} else if err != nil {
			lastErr = err
		}

		if time.Now().After(deadline) {
			if last != nil {
				c.logger.Warn(ctx, "session still running", zap.String("session.id", id))
				return last.Session, nil
			}
			return nil, fmt.Errorf("waiting for session %s: %w", id, lastErr)
		}

		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if last != nil {
				return last.Session, ctx.Err()
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) status(ctx context.Context, id string) (*StatusView, error) {
	val, err := c.tc.QueryWorkflow(ctx, WorkflowID(id), "", QueryStatus)
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", id, err)
	}
	var view StatusView
	if err := val.Get(&view); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &view, nil
}

func clone(s *wf.Session) (*wf.Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out wf.Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
