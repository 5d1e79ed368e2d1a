package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

type beginInput struct {
	Task string `json:"task" jsonschema:"required,Work item reference (e.g. 101)"`
}

type respondInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Gate      string `json:"gate,omitempty" jsonschema:"Gate to answer (plan-approval or commit-approval). Defaults to the pending gate"`
	Answer    string `json:"answer" jsonschema:"required,yes or no"`
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type reviseInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Notes     string `json:"notes" jsonschema:"required,What the revised plan should change"`
}

type listInput struct {
	Task   string `json:"task,omitempty" jsonschema:"Filter by work item reference"`
	Status string `json:"status,omitempty" jsonschema:"Filter by status (e.g. AwaitingConfirmation)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum sessions to return (default: 20)"`
}

// sessionOutput is the tool-facing view of a session.
type sessionOutput struct {
	ID             string   `json:"id" jsonschema:"Session ID"`
	Task           string   `json:"task" jsonschema:"Work item reference"`
	Status         string   `json:"status" jsonschema:"Session status"`
	Phase          string   `json:"phase" jsonschema:"Current phase"`
	Awaiting       string   `json:"awaiting,omitempty" jsonschema:"What the session waits for: answer, resume or revise"`
	PendingGate    string   `json:"pending_gate,omitempty" jsonschema:"Gate awaiting an answer"`
	Question       string   `json:"question,omitempty" jsonschema:"Question for the pending gate"`
	Branch         string   `json:"branch,omitempty" jsonschema:"Feature branch"`
	Message        string   `json:"message,omitempty" jsonschema:"Latest message for the user"`
	ManualCommands []string `json:"manual_commands,omitempty" jsonschema:"Commands to run by hand"`
	CommitHash     string   `json:"commit_hash,omitempty" jsonschema:"Commit created for the session"`
	Pushed         bool     `json:"pushed,omitempty" jsonschema:"Whether the commit was pushed"`
	Warnings       []string `json:"warnings,omitempty" jsonschema:"Non-fatal warnings"`
	ErrorKind      string   `json:"error_kind,omitempty" jsonschema:"Kind of the last error"`
	Done           bool     `json:"done" jsonschema:"Whether the session is finished"`
}

type listOutput struct {
	Sessions []sessionOutput `json:"sessions" jsonschema:"Matching sessions, newest first"`
	Count    int             `json:"count" jsonschema:"Number of sessions returned"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_begin",
		Description: "Start the implementation workflow for a work item. Runs until the plan approval gate or a blocking error.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args beginInput) (*mcp.CallToolResult, sessionOutput, error) {
		return s.sessionTool(ctx, "workflow_begin", func(ctx context.Context) (*workflow.Session, error) {
			return s.svc.Begin(ctx, workflow.TaskRef(strings.TrimSpace(args.Task)))
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_respond",
		Description: "Answer a confirmation gate with yes or no.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args respondInput) (*mcp.CallToolResult, sessionOutput, error) {
		return s.sessionTool(ctx, "workflow_respond", func(ctx context.Context) (*workflow.Session, error) {
			answer, err := workflow.ParseAnswer(args.Answer)
			if err != nil {
				return nil, err
			}
			return s.svc.Respond(ctx, args.SessionID, workflow.GateID(args.Gate), answer)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_resume",
		Description: "Resume a session that is waiting after a failure or for external edits.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionInput) (*mcp.CallToolResult, sessionOutput, error) {
		return s.sessionTool(ctx, "workflow_resume", func(ctx context.Context) (*workflow.Session, error) {
			return s.svc.Resume(ctx, args.SessionID)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_revise",
		Description: "Replace a pending or denied plan using revision notes.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args reviseInput) (*mcp.CallToolResult, sessionOutput, error) {
		return s.sessionTool(ctx, "workflow_revise", func(ctx context.Context) (*workflow.Session, error) {
			return s.svc.Revise(ctx, args.SessionID, args.Notes)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_abandon",
		Description: "Abandon a session. Nothing is committed or posted afterwards.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionInput) (*mcp.CallToolResult, sessionOutput, error) {
		return s.sessionTool(ctx, "workflow_abandon", func(ctx context.Context) (*workflow.Session, error) {
			return s.svc.Abandon(ctx, args.SessionID)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_status",
		Description: "Show the current state of a session.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionInput) (*mcp.CallToolResult, sessionOutput, error) {
		return s.sessionTool(ctx, "workflow_status", func(ctx context.Context) (*workflow.Session, error) {
			return s.svc.Get(ctx, args.SessionID)
		})
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workflow_list",
		Description: "List sessions, newest first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listInput) (*mcp.CallToolResult, listOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "workflow_list")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "workflow_list")
			s.metrics.RecordInvocation(ctx, "workflow_list", time.Since(start), toolErr)
		}()

		limit := args.Limit
		if limit <= 0 {
			limit = 20
		}
		sessions, err := s.svc.List(ctx, workflow.ListFilter{
			Task:   workflow.TaskRef(args.Task),
			Status: workflow.Status(args.Status),
			Limit:  limit,
		})
		if err != nil {
			toolErr = err
			return nil, listOutput{}, fmt.Errorf("list sessions: %w", err)
		}

		out := listOutput{Sessions: make([]sessionOutput, 0, len(sessions))}
		var b strings.Builder
		for _, sess := range sessions {
			view := s.view(sess)
			out.Sessions = append(out.Sessions, view)
			fmt.Fprintf(&b, "%s  %s  %s  %s\n", view.ID, view.Task, view.Status, view.Phase)
		}
		out.Count = len(out.Sessions)
		if out.Count == 0 {
			b.WriteString("No sessions found.")
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
		}, out, nil
	})
}

// sessionTool runs op with metrics and renders the resulting session.
func (s *Server) sessionTool(ctx context.Context, name string, op func(context.Context) (*workflow.Session, error)) (*mcp.CallToolResult, sessionOutput, error) {
	start := time.Now()
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	s.metrics.IncrementActive(ctx, name)
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), toolErr)
	}()

	sess, err := op(ctx)
	if err != nil {
		toolErr = err
		logging.FromZap(s.logger).Debug(ctx, "tool failed", zap.String("tool", name), zap.Error(err))
		return nil, sessionOutput{}, err
	}

	view := s.view(sess)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: render(view)}},
	}, view, nil
}

func (s *Server) view(sess *workflow.Session) sessionOutput {
	out := sessionOutput{
		ID:             sess.ID,
		Task:           string(sess.Task),
		Status:         string(sess.Status),
		Phase:          string(sess.Phase),
		Awaiting:       string(sess.Await),
		Branch:         sess.Branch,
		Message:        s.scrubber.Scrub(sess.Message),
		ManualCommands: sess.ManualCommands,
		Warnings:       sess.Warnings,
		Done:           sess.Done(),
	}
	if g := sess.PendingGate(); g != nil {
		out.PendingGate = string(g.ID)
		out.Question = g.Question
	}
	if sess.Commit != nil {
		out.CommitHash = sess.Commit.Hash
		out.Pushed = sess.Commit.Pushed
	}
	if sess.LastError != nil {
		out.ErrorKind = string(sess.LastError.Kind)
	}
	return out
}

func render(v sessionOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s for work item %s: %s (%s)\n", v.ID, v.Task, v.Status, v.Phase)
	if v.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", v.Branch)
	}
	if v.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", v.Message)
	}
	if len(v.ManualCommands) > 0 {
		b.WriteString("\nRun manually:\n")
		for _, cmd := range v.ManualCommands {
			fmt.Fprintf(&b, "  %s\n", cmd)
		}
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	switch {
	case v.PendingGate != "":
		fmt.Fprintf(&b, "\nAnswer %s with workflow_respond (yes/no).\n", v.PendingGate)
	case v.Awaiting == string(workflow.AwaitResume):
		b.WriteString("\nCall workflow_resume when ready.\n")
	case v.Awaiting == string(workflow.AwaitRevise):
		b.WriteString("\nCall workflow_revise with notes, or workflow_abandon.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
