package workflow

import (
	"fmt"
	"time"
)

// Session is the persisted state of one task's workflow. It is the
// continuation used to resume after a gate or a failure.
type Session struct {
	ID     string  `json:"id"`
	Task   TaskRef `json:"task"`
	Phase  Phase   `json:"phase"`
	Status Status  `json:"status"`
	Await  Await   `json:"await,omitempty"`
	Branch string  `json:"branch,omitempty"`

	Understanding *Understanding    `json:"understanding,omitempty"`
	Plan          *Plan             `json:"plan,omitempty"`
	Gates         map[GateID]*Gate  `json:"gates,omitempty"`
	ChangeSet     *ChangeSet        `json:"change_set,omitempty"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	Commit        *CommitRecord     `json:"commit,omitempty"`
	Updates       []Comment         `json:"updates,omitempty"`

	// ManualCommands are shown when commit or push could not run here.
	ManualCommands []string `json:"manual_commands,omitempty"`
	CommitDeclined bool     `json:"commit_declined,omitempty"`
	// CommandsRun lists every validation command executed, verbatim, once.
	CommandsRun []string `json:"commands_run,omitempty"`

	Attempts        int    `json:"attempts,omitempty"`
	ResumeRequested bool   `json:"resume_requested,omitempty"`
	RevisionNotes   string `json:"revision_notes,omitempty"`
	Abandoned       bool   `json:"abandoned,omitempty"`

	// Message is the latest user-facing message: a prompt, a remediation
	// request or a verbatim failure report.
	Message   string       `json:"message,omitempty"`
	LastError *ErrorInfo   `json:"last_error,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
	History   []Transition `json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession starts a session for task at the prerequisites phase.
func NewSession(id string, task TaskRef, now time.Time) *Session {
	return &Session{
		ID:        id,
		Task:      task,
		Phase:     PhasePrerequisites,
		Gates:     map[GateID]*Gate{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the session reached a state no operation can leave.
func (s *Session) Done() bool {
	if s.Abandoned || s.Status == StatusUpdated {
		return true
	}
	return s.Status == StatusBlocked && s.LastError != nil && s.LastError.Kind == KindMissingPrerequisite
}

// Runnable reports whether the engine may execute the current phase.
func (s *Session) Runnable() bool {
	return !s.Done() && s.Await == AwaitNothing
}

// Gate returns the gate with id, or nil if it has not been asked.
func (s *Session) Gate(id GateID) *Gate {
	if s.Gates == nil {
		return nil
	}
	return s.Gates[id]
}

// PendingGate returns the gate awaiting an answer, or nil.
func (s *Session) PendingGate() *Gate {
	if s.Await != AwaitAnswer {
		return nil
	}
	for _, g := range s.Gates {
		if g.State == GatePending {
			return g
		}
	}
	return nil
}

// Approved reports whether gate id is approved.
func (s *Session) Approved(id GateID) bool {
	g := s.Gate(id)
	return g != nil && g.State == GateApproved
}

func (s *Session) setStatus(to Status, reason string, now time.Time) {
	if s.Status == to {
		s.UpdatedAt = now
		return
	}
	s.History = append(s.History, Transition{
		From:   s.Status,
		To:     to,
		Phase:  s.Phase,
		At:     now,
		Reason: reason,
	})
	s.Status = to
	s.UpdatedAt = now
}

func (s *Session) ask(id GateID, question string, now time.Time) {
	if s.Gates == nil {
		s.Gates = map[GateID]*Gate{}
	}
	s.Gates[id] = &Gate{ID: id, Question: question, State: GatePending, AskedAt: now}
	s.Await = AwaitAnswer
	s.Message = question
	s.setStatus(StatusAwaitingConfirmation, string(id), now)
}

func (s *Session) fail(err *Error, now time.Time) {
	s.LastError = err.Info()
	s.Message = s.LastError.Message
	s.Await = AwaitResume
	s.setStatus(StatusFailed, string(err.Kind), now)
}

func (s *Session) warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// Answer records a yes/no on the pending gate and makes the session runnable.
func (s *Session) Answer(id GateID, answer Answer, now time.Time) error {
	if s.Done() {
		return ErrSessionDone
	}
	if id != GatePlanApproval && id != GateCommitApproval {
		return fmt.Errorf("%w: %q", ErrUnknownGate, id)
	}
	if answer != AnswerYes && answer != AnswerNo {
		return fmt.Errorf("%w: %q", ErrInvalidAnswer, answer)
	}
	g := s.PendingGate()
	if g == nil || g.ID != id {
		return fmt.Errorf("%w: %s", ErrGateNotPending, id)
	}

	g.State = GateApproved
	if answer == AnswerNo {
		g.State = GateDenied
	}
	g.AnsweredAt = &now
	s.Await = AwaitNothing
	s.UpdatedAt = now
	return nil
}

// RequestResume marks a session waiting on AwaitResume as runnable.
func (s *Session) RequestResume(now time.Time) error {
	if s.Done() {
		return ErrSessionDone
	}
	if s.Await != AwaitResume {
		return ErrNotResumable
	}
	s.Await = AwaitNothing
	s.ResumeRequested = true
	s.UpdatedAt = now
	return nil
}

// Revise discards the plan and returns the session to the plan phase. It is
// allowed while gate 1 is pending or after it was denied.
func (s *Session) Revise(notes string, now time.Time) error {
	if s.Done() {
		return ErrSessionDone
	}
	g := s.Gate(GatePlanApproval)
	if s.Phase != PhaseConfirmPlan || g == nil || g.State == GateApproved {
		return ErrNotRevisable
	}
	delete(s.Gates, GatePlanApproval)
	s.Plan = nil
	s.RevisionNotes = notes
	s.Phase = PhasePlan
	s.Await = AwaitNothing
	s.LastError = nil
	s.UpdatedAt = now
	return nil
}

// Abandon ends the session at the user's direction. Edits already in the
// working tree are left untouched.
func (s *Session) Abandon(now time.Time) error {
	if s.Done() {
		return ErrSessionDone
	}
	s.Abandoned = true
	s.Await = AwaitNothing
	s.Message = "session abandoned by user"
	s.setStatus(StatusFailed, "abandoned", now)
	return nil
}

// Validate checks the invariants that must hold on every save.
func (s *Session) Validate() error {
	if s.ID == "" || s.Task == "" {
		return fmt.Errorf("session requires id and task")
	}
	if s.Phase.Index() < 0 {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if s.ChangeSet != nil && !s.Approved(GatePlanApproval) {
		return fmt.Errorf("change set exists without %s: %w", GatePlanApproval, ErrGateNotApproved)
	}
	if s.Commit != nil && !s.Approved(GateCommitApproval) {
		return fmt.Errorf("commit record exists without %s: %w", GateCommitApproval, ErrGateNotApproved)
	}
	if len(s.Updates) > 0 && (s.Validation == nil || !s.Validation.Passed) {
		return fmt.Errorf("work item updated before validation passed")
	}
	return nil
}
