// Package agent provides the workflow.Implementer used in the implement
// phase.
//
// Two modes exist. External waits for edits made outside the process (an
// editor, an IDE assistant, a human) and collects the change set once the
// session is resumed. Command runs a configured agent command with the plan
// handed over in a file.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// Environment variables passed to the agent command.
const (
	EnvPlanFile  = "IMPLFLOW_PLAN_FILE"
	EnvSessionID = "IMPLFLOW_SESSION_ID"
	EnvTask      = "IMPLFLOW_TASK"
	EnvAttempt   = "IMPLFLOW_ATTEMPT"
)

// maxAgentOutput bounds the agent output kept on the change set.
const maxAgentOutput = 8 << 10

// StatusReader lists working tree changes. *vcs.Repo satisfies it.
type StatusReader interface {
	Status(ctx context.Context) ([]workflow.FileChange, error)
}

// New returns the implementer selected by cfg.Mode. status may be nil when
// version control is unavailable; the change set is then not enumerated.
func New(dir string, cfg config.AgentConfig, status StatusReader, logger *logging.Logger) (workflow.Implementer, error) {
	switch cfg.Mode {
	case "", config.AgentModeExternal:
		return NewExternal(status), nil
	case config.AgentModeCommand:
		return NewCommand(dir, cfg, status, logger)
	default:
		return nil, fmt.Errorf("unknown agent mode %q", cfg.Mode)
	}
}

// External suspends the session until the user resumes it.
type External struct {
	status StatusReader
}

// NewExternal returns an External implementer.
func NewExternal(status StatusReader) *External {
	return &External{status: status}
}

// Implement returns workflow.ErrImplementationPending until the session has
// been resumed, then collects the change set.
func (e *External) Implement(ctx context.Context, req workflow.ImplementRequest) (*workflow.ChangeSet, error) {
	if !req.Resumed {
		return nil, workflow.ErrImplementationPending
	}
	return collect(ctx, e.status)
}

// Command runs an agent process for each attempt.
type Command struct {
	dir     string
	command string
	args    []string
	timeout time.Duration
	status  StatusReader
	logger  *logging.Logger

	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewCommand returns a Command implementer.
func NewCommand(dir string, cfg config.AgentConfig, status StatusReader, logger *logging.Logger) (*Command, error) {
	if cfg.Command == "" {
		return nil, errors.New("agent command is required in command mode")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Command{
		dir:        dir,
		command:    cfg.Command,
		args:       cfg.Args,
		timeout:    cfg.Timeout.Duration(),
		status:     status,
		logger:     logger.Named("agent"),
		cmdFactory: exec.CommandContext,
	}, nil
}

// Handoff is the JSON document written to IMPLFLOW_PLAN_FILE.
type Handoff struct {
	SessionID       string           `json:"session_id"`
	Task            workflow.TaskRef `json:"task"`
	Attempt         int              `json:"attempt"`
	Plan            *workflow.Plan   `json:"plan"`
	PreviousFailure string           `json:"previous_failure,omitempty"`
}

// Implement runs the agent command and collects the resulting change set.
// A non-zero exit is an error and leaves the session resumable.
func (c *Command) Implement(ctx context.Context, req workflow.ImplementRequest) (*workflow.ChangeSet, error) {
	planFile, err := writeHandoff(req)
	if err != nil {
		return nil, err
	}
	defer os.Remove(planFile)

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := c.cmdFactory(runCtx, c.command, c.args...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(),
		EnvPlanFile+"="+planFile,
		EnvSessionID+"="+req.SessionID,
		EnvTask+"="+string(req.Task),
		EnvAttempt+"="+strconv.Itoa(req.Attempt),
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	c.logger.Info(ctx, "running agent", zap.String("command", c.command), zap.Int("attempt", req.Attempt))
	start := time.Now()
	if err := cmd.Run(); err != nil {
		c.logger.Warn(ctx, "agent failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("agent %s: %w\n%s", c.command, err, lastBytes(out.Bytes(), maxAgentOutput))
	}
	c.logger.Info(ctx, "agent finished", zap.Duration("duration", time.Since(start)))

	cs, err := collect(ctx, c.status)
	if err != nil {
		return nil, err
	}
	cs.AgentOutput = lastBytes(out.Bytes(), maxAgentOutput)
	return cs, nil
}

func writeHandoff(req workflow.ImplementRequest) (string, error) {
	data, err := json.MarshalIndent(Handoff{
		SessionID:       req.SessionID,
		Task:            req.Task,
		Attempt:         req.Attempt,
		Plan:            req.Plan,
		PreviousFailure: req.PreviousFailure,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding plan: %w", err)
	}
	f, err := os.CreateTemp("", "implflow-plan-*.json")
	if err != nil {
		return "", fmt.Errorf("creating plan file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing plan file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing plan file: %w", err)
	}
	return f.Name(), nil
}

func collect(ctx context.Context, status StatusReader) (*workflow.ChangeSet, error) {
	if status == nil {
		return &workflow.ChangeSet{}, nil
	}
	files, err := status.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting changes: %w", err)
	}
	return &workflow.ChangeSet{Files: files, Enumerated: true}, nil
}

func lastBytes(b []byte, n int) string {
	b = bytes.TrimRight(b, "\n")
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
