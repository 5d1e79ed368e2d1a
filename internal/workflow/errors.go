package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies workflow errors surfaced to the user.
type ErrorKind string

const (
	// KindMissingPrerequisite is fatal for the session.
	KindMissingPrerequisite ErrorKind = "MissingPrerequisite"
	// KindStaleDataRisk flags a snapshot that does not belong to the task.
	KindStaleDataRisk ErrorKind = "StaleDataRisk"
	// KindBranchMismatch halts before implement until the branch is fixed.
	KindBranchMismatch ErrorKind = "BranchMismatch"
	// KindValidationFailure returns the session to implement.
	KindValidationFailure ErrorKind = "ValidationFailure"
	// KindVersionControlUnavailable degrades commit to manual instructions.
	KindVersionControlUnavailable ErrorKind = "VersionControlUnavailable"
	// KindGateDenied halts forward progress at the gate.
	KindGateDenied ErrorKind = "GateDenied"
	// KindExternal wraps a failed call to a collaborator.
	KindExternal ErrorKind = "ExternalCallFailed"
)

// Sentinels matched by errors.Is against a *Error of the same kind.
var (
	ErrMissingPrerequisite       = errors.New("missing prerequisite")
	ErrStaleDataRisk             = errors.New("stale work item data")
	ErrBranchMismatch            = errors.New("branch mismatch")
	ErrValidationFailure         = errors.New("validation failed")
	ErrVersionControlUnavailable = errors.New("version control unavailable")
	ErrGateDenied                = errors.New("gate denied")
)

// Usage errors returned by Controller operations.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrActiveSession         = errors.New("task already has an active session")
	ErrUnknownGate           = errors.New("unknown gate")
	ErrGateNotPending        = errors.New("gate is not awaiting an answer")
	ErrInvalidAnswer         = errors.New("invalid answer")
	ErrNotResumable          = errors.New("session is not waiting to be resumed")
	ErrNotRevisable          = errors.New("session plan cannot be revised")
	ErrSessionDone           = errors.New("session is finished")
	ErrEmptyTask             = errors.New("task reference is required")
	ErrGateNotApproved       = errors.New("gate not approved")
	ErrImplementationPending = errors.New("implementation pending external edits")
)

var kindSentinels = map[ErrorKind]error{
	KindMissingPrerequisite:       ErrMissingPrerequisite,
	KindStaleDataRisk:             ErrStaleDataRisk,
	KindBranchMismatch:            ErrBranchMismatch,
	KindValidationFailure:         ErrValidationFailure,
	KindVersionControlUnavailable: ErrVersionControlUnavailable,
	KindGateDenied:                ErrGateDenied,
}

// Error is a classified workflow error.
type Error struct {
	Kind    ErrorKind
	Phase   Phase
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %s: %s: %v", e.Kind, e.Phase, e.Message, e.Err)
	}
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.Phase, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// Info converts the error for storage on a Session.
func (e *Error) Info() *ErrorInfo {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return &ErrorInfo{Kind: e.Kind, Phase: e.Phase, Message: msg}
}

func newError(kind ErrorKind, phase Phase, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Phase: phase, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsError returns the session's last error as an *Error, or nil.
func (s *Session) AsError() error {
	if s.LastError == nil {
		return nil
	}
	return &Error{Kind: s.LastError.Kind, Phase: s.LastError.Phase, Message: s.LastError.Message}
}
