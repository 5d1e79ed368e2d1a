package workflow

import (
	"context"
	"time"
)

// WorkItemSource is the external tracker.
type WorkItemSource interface {
	// Fetch returns a fresh snapshot of the work item. Implementations must
	// not serve it from a cache.
	Fetch(ctx context.Context, task TaskRef) (*WorkItem, error)
	// PostComment appends a markdown comment to the work item.
	PostComment(ctx context.Context, task TaskRef, markdown string) error
}

// VersionControl is the repository the change set lives in.
type VersionControl interface {
	// Available reports whether a repository and the tooling to push exist.
	Available(ctx context.Context) bool
	Status(ctx context.Context) ([]FileChange, error)
	StageAll(ctx context.Context) error
	// Commit records the staged changes and returns the commit hash.
	Commit(ctx context.Context, message string) (string, error)
	// Push pushes branch to its remote tracking branch.
	Push(ctx context.Context, branch string) error
	CurrentBranch(ctx context.Context) (string, error)
}

// Runner executes validation commands.
type Runner interface {
	// Run executes every command in order and reports whether all passed.
	Run(ctx context.Context, commands []string) ([]CommandResult, bool)
}

// ImplementRequest is handed to the Implementer for each attempt.
type ImplementRequest struct {
	SessionID string
	Task      TaskRef
	Plan      *Plan
	Attempt   int
	// Resumed is true when the user explicitly resumed the session.
	Resumed bool
	// PreviousFailure is the verbatim report of the last failed validation.
	PreviousFailure string
}

// Implementer produces the change set for a plan. It returns
// ErrImplementationPending when edits are made outside the process and the
// session should wait for Resume.
type Implementer interface {
	Implement(ctx context.Context, req ImplementRequest) (*ChangeSet, error)
}

// PrerequisiteChecker reports which required paths are missing.
type PrerequisiteChecker interface {
	Missing(ctx context.Context, paths []string) ([]string, error)
}

// Planner turns a snapshot into an understanding and a plan.
type Planner interface {
	Understand(item *WorkItem) *Understanding
	Plan(item *WorkItem, u *Understanding, branch string, validation []string, notes string) *Plan
}

// Scrubber removes secrets from text before it leaves the process.
type Scrubber interface {
	Scrub(text string) string
}

// ListFilter narrows SessionStore.List.
type ListFilter struct {
	Task   TaskRef
	Status Status
	Limit  int
}

// SessionStore persists sessions.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, filter ListFilter) ([]*Session, error)
	// ActiveForTask returns the unfinished session for task, or nil.
	ActiveForTask(ctx context.Context, task TaskRef) (*Session, error)
}

// Event describes a session status transition.
type Event struct {
	SessionID string    `json:"session_id"`
	Task      TaskRef   `json:"task"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to"`
	Phase     Phase     `json:"phase"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// EventPublisher broadcasts transitions.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

type noopScrubber struct{}

func (noopScrubber) Scrub(text string) string { return text }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }
