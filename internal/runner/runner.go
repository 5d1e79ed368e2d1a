// Package runner executes validation commands through a shell.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// ExitCodeNotRun marks a command that never produced an exit status: the
// shell could not start, or the command timed out or was cancelled.
const ExitCodeNotRun = -1

// Runner runs each command with `<shell> -c` in a working directory.
type Runner struct {
	dir     string
	shell   string
	timeout time.Duration
	tail    int
	logger  *logging.Logger

	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

var _ workflow.Runner = (*Runner)(nil)

// New returns a Runner that executes commands in dir.
func New(dir string, cfg config.RunnerConfig, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	shell := cfg.Shell
	if shell == "" {
		shell = "sh"
	}
	return &Runner{
		dir:        dir,
		shell:      shell,
		timeout:    cfg.Timeout.Duration(),
		tail:       cfg.TailLines,
		logger:     logger.Named("runner"),
		cmdFactory: exec.CommandContext,
	}
}

// Run executes every command in order, including those after a failure, and
// reports whether all of them exited zero.
func (r *Runner) Run(ctx context.Context, commands []string) ([]workflow.CommandResult, bool) {
	results := make([]workflow.CommandResult, 0, len(commands))
	allPassed := true
	for _, command := range commands {
		res := r.runOne(ctx, command)
		if !res.Passed {
			allPassed = false
		}
		results = append(results, res)
	}
	return results, allPassed
}

func (r *Runner) runOne(ctx context.Context, command string) workflow.CommandResult {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := r.cmdFactory(runCtx, r.shell, "-c", command)
	cmd.Dir = r.dir
	setProcessGroup(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := workflow.CommandResult{
		Command:  command,
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case runCtx.Err() != nil:
		res.ExitCode = ExitCodeNotRun
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			fmt.Fprintf(&out, "\ncommand timed out after %s", r.timeout)
		} else {
			fmt.Fprintf(&out, "\ncommand cancelled: %v", runCtx.Err())
		}
	case err == nil:
		res.Passed = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = ExitCodeNotRun
		fmt.Fprintf(&out, "failed to start %s: %v", r.shell, err)
	}
	res.Output = tailLines(out.String(), r.tail)

	r.logger.Info(ctx, "validation command finished",
		zap.String("command", command),
		zap.Bool("passed", res.Passed),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	r.logger.Trace(ctx, "validation command output", zap.String("command", command), zap.String("output", res.Output))
	return res
}

// tailLines keeps the last n lines of s. n <= 0 keeps everything.
func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if n <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	omitted := len(lines) - n
	return fmt.Sprintf("[%d earlier lines omitted]\n%s", omitted, strings.Join(lines[omitted:], "\n"))
}
