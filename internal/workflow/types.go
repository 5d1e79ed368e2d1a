package workflow

import (
	"fmt"
	"strings"
	"time"
)

// TaskRef identifies the work item a session implements.
type TaskRef string

// Phase represents a step in the implementation workflow.
type Phase string

const (
	// PhasePrerequisites verifies required paths exist.
	PhasePrerequisites Phase = "prerequisites_check"

	// PhaseUnderstand fetches the work item and summarizes requirements.
	PhaseUnderstand Phase = "understand"

	// PhasePlan produces the implementation plan.
	PhasePlan Phase = "plan"

	// PhaseConfirmPlan is gate 1: approval to implement on the target branch.
	PhaseConfirmPlan Phase = "confirm_plan"

	// PhaseImplement produces the change set.
	PhaseImplement Phase = "implement"

	// PhaseValidate runs validation commands and reviews acceptance criteria.
	PhaseValidate Phase = "validate"

	// PhaseConfirmCommit is gate 2: approval to commit and push.
	PhaseConfirmCommit Phase = "confirm_commit"

	// PhaseUpdateWorkItem posts the plan and completion comments.
	PhaseUpdateWorkItem Phase = "update_work_item"
)

// AllPhases returns the phases in execution order.
func AllPhases() []Phase {
	return []Phase{
		PhasePrerequisites,
		PhaseUnderstand,
		PhasePlan,
		PhaseConfirmPlan,
		PhaseImplement,
		PhaseValidate,
		PhaseConfirmCommit,
		PhaseUpdateWorkItem,
	}
}

// Index returns the position of p in AllPhases, or -1.
func (p Phase) Index() int {
	for i, phase := range AllPhases() {
		if phase == p {
			return i
		}
	}
	return -1
}

// Status is the externally observable session status.
type Status string

const (
	StatusBlocked              Status = "Blocked"
	StatusAwaitingConfirmation Status = "AwaitingConfirmation"
	StatusImplementing         Status = "Implementing"
	StatusValidated            Status = "Validated"
	StatusCommitted            Status = "Committed"
	StatusUpdated              Status = "Updated"
	StatusFailed               Status = "Failed"
)

// Await names what a suspended session is waiting for.
type Await string

const (
	// AwaitNothing means the session is runnable or finished.
	AwaitNothing Await = ""
	// AwaitAnswer waits for a yes/no on the pending gate.
	AwaitAnswer Await = "answer"
	// AwaitResume waits for an explicit Resume of the current phase.
	AwaitResume Await = "resume"
	// AwaitRevise waits for a revised plan after gate 1 was denied.
	AwaitRevise Await = "revise"
)

// GateID names a confirmation gate.
type GateID string

const (
	GatePlanApproval   GateID = "plan-approval"
	GateCommitApproval GateID = "commit-approval"
)

// GateState is the state of a confirmation gate.
type GateState string

const (
	GatePending  GateState = "pending"
	GateApproved GateState = "approved"
	GateDenied   GateState = "denied"
)

// Gate is a yes/no checkpoint tied to one question and one next action.
type Gate struct {
	ID         GateID     `json:"id"`
	Question   string     `json:"question"`
	State      GateState  `json:"state"`
	AskedAt    time.Time  `json:"asked_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// Answer is a gate response.
type Answer string

const (
	AnswerYes Answer = "yes"
	AnswerNo  Answer = "no"
)

// ParseAnswer accepts yes/y/no/n in any case.
func ParseAnswer(s string) (Answer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return AnswerYes, nil
	case "no", "n":
		return AnswerNo, nil
	}
	return "", fmt.Errorf("%w: %q (expected yes or no)", ErrInvalidAnswer, s)
}

// WorkItem is a snapshot of the tracker entry. It is fetched fresh by each
// phase that needs it and never stored on a Session.
type WorkItem struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type,omitempty"`
	Title              string    `json:"title"`
	State              string    `json:"state,omitempty"`
	Description        string    `json:"description,omitempty"`
	AcceptanceCriteria []string  `json:"acceptance_criteria,omitempty"`
	Links              []Link    `json:"links,omitempty"`
	URL                string    `json:"url,omitempty"`
	Revision           int       `json:"revision,omitempty"`
	FetchedAt          time.Time `json:"fetched_at"`
}

// Link is a relation from the work item to another resource.
type Link struct {
	Rel   string `json:"rel"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Understanding is the output of the understand phase.
type Understanding struct {
	Summary       string    `json:"summary"`
	OpenQuestions []string  `json:"open_questions,omitempty"`
	Revision      int       `json:"revision,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Plan describes how the work item will be implemented.
type Plan struct {
	Title              string    `json:"title"`
	Summary            string    `json:"summary"`
	Steps              []string  `json:"steps"`
	Files              []string  `json:"files,omitempty"`
	Tests              []string  `json:"tests,omitempty"`
	Risks              []string  `json:"risks,omitempty"`
	AcceptanceCriteria []string  `json:"acceptance_criteria,omitempty"`
	Branch             string    `json:"branch"`
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ChangeKind classifies a file change.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeModified  ChangeKind = "modified"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeRenamed   ChangeKind = "renamed"
	ChangeUntracked ChangeKind = "untracked"
)

// FileChange is one path in the working tree that differs from HEAD.
type FileChange struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// ChangeSet is the set of edits made during implement.
type ChangeSet struct {
	Files []FileChange `json:"files"`
	// Enumerated is false when version control was unavailable and the file
	// list could not be collected.
	Enumerated  bool      `json:"enumerated"`
	Attempt     int       `json:"attempt"`
	AgentOutput string    `json:"agent_output,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// CommandResult is the outcome of one validation command.
type CommandResult struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// AcceptanceCheck reviews one acceptance criterion against the change set.
type AcceptanceCheck struct {
	Criterion string `json:"criterion"`
	Met       bool   `json:"met"`
	Note      string `json:"note,omitempty"`
}

// ValidationResult is the outcome of the validate phase.
type ValidationResult struct {
	Commands   []CommandResult   `json:"commands"`
	Acceptance []AcceptanceCheck `json:"acceptance,omitempty"`
	Passed     bool              `json:"passed"`
	// Report is shown to the user verbatim when validation fails.
	Report     string    `json:"report,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// CommitRecord exists only when gate 2 was approved and the commit succeeded.
type CommitRecord struct {
	Hash        string    `json:"hash"`
	Branch      string    `json:"branch"`
	Message     string    `json:"message"`
	Pushed      bool      `json:"pushed"`
	CommittedAt time.Time `json:"committed_at"`
}

// Comment is a posted work item update.
type Comment struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	PostedAt time.Time `json:"posted_at"`
}

// Transition records a status change.
type Transition struct {
	From   Status    `json:"from,omitempty"`
	To     Status    `json:"to"`
	Phase  Phase     `json:"phase"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// ErrorInfo is the last error surfaced to the user.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind,omitempty"`
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
}
