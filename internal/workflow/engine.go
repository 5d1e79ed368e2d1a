package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/logging"
)

// DefaultBranchTemplate is used when Settings.BranchTemplate is empty.
const DefaultBranchTemplate = "feature/{id}"

// Settings are the per-repository inputs of the engine.
type Settings struct {
	// Prerequisites are paths, relative to the repository root, that must
	// exist before a session can start.
	Prerequisites []string
	// BranchTemplate renders the expected branch; {id} is the task id.
	BranchTemplate string
	// ValidationCommands run in order during validate.
	ValidationCommands []string
	// Remote is named in manual push instructions.
	Remote string
}

// Collaborators are the external systems the engine drives. VCS may be nil,
// which is treated as version control being unavailable.
type Collaborators struct {
	Source        WorkItemSource
	VCS           VersionControl
	Runner        Runner
	Implementer   Implementer
	Prerequisites PrerequisiteChecker
	Planner       Planner
	Scrubber      Scrubber
}

// StepCallback is invoked after every executed phase.
type StepCallback func(ctx context.Context, s *Session) error

// Engine executes workflow phases against a Session.
type Engine struct {
	c        Collaborators
	settings Settings
	logger   *logging.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the engine metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the engine tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. Source, Runner and Implementer are required.
func NewEngine(c Collaborators, settings Settings, opts ...EngineOption) (*Engine, error) {
	if c.Source == nil {
		return nil, fmt.Errorf("work item source is required")
	}
	if c.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if c.Implementer == nil {
		return nil, fmt.Errorf("implementer is required")
	}
	if c.Prerequisites == nil {
		c.Prerequisites = PathChecker{Root: "."}
	}
	if c.Scrubber == nil {
		c.Scrubber = noopScrubber{}
	}
	if settings.BranchTemplate == "" {
		settings.BranchTemplate = DefaultBranchTemplate
	}
	if settings.Remote == "" {
		settings.Remote = "origin"
	}

	e := &Engine{
		c:        c,
		settings: settings,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.c.Planner == nil {
		e.c.Planner = DefaultPlanner{Now: e.now}
	}
	return e, nil
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Run steps the session until it suspends or finishes. afterStep, if set,
// is called after each phase so the caller can persist progress.
func (e *Engine) Run(ctx context.Context, s *Session, afterStep StepCallback) error {
	for s.Runnable() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Step(ctx, s); err != nil {
			return err
		}
		if afterStep != nil {
			if err := afterStep(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Step executes the session's current phase once. Failures of external
// calls are recorded on the session, not returned; a returned error means
// the session could not be stepped at all.
func (e *Engine) Step(ctx context.Context, s *Session) error {
	if s.Done() {
		return ErrSessionDone
	}
	if !s.Runnable() {
		return fmt.Errorf("session %s is waiting for %s", s.ID, s.Await)
	}

	phase := s.Phase
	ctx = logging.WithPhase(logging.WithSession(ctx, s.ID, string(s.Task)), string(phase))
	ctx, span := e.tracer.Start(ctx, "workflow."+string(phase), trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("task.ref", string(s.Task)),
	))
	defer span.End()

	start := e.now()
	e.logger.Debug(ctx, "phase started")

	var err error
	switch phase {
	case PhasePrerequisites:
		err = e.checkPrerequisites(ctx, s)
	case PhaseUnderstand:
		err = e.understand(ctx, s)
	case PhasePlan:
		err = e.plan(ctx, s)
	case PhaseConfirmPlan:
		err = e.confirmPlan(ctx, s)
	case PhaseImplement:
		err = e.implement(ctx, s)
	case PhaseValidate:
		err = e.validate(ctx, s)
	case PhaseConfirmCommit:
		err = e.confirmCommit(ctx, s)
	case PhaseUpdateWorkItem:
		err = e.updateWorkItem(ctx, s)
	default:
		err = fmt.Errorf("unknown phase %q", phase)
	}

	// A resume only means "edits are done" to the implement phase.
	if phase != PhaseImplement {
		s.ResumeRequested = false
	}

	// A transient failure that has now been overcome is no longer current.
	if s.LastError != nil && s.LastError.Phase == phase && s.Phase != phase &&
		(s.LastError.Kind == KindExternal || s.LastError.Kind == KindStaleDataRisk) {
		s.LastError = nil
	}

	outcome := phaseOutcome(s, phase)
	e.metrics.RecordPhase(ctx, phase, outcome, e.now().Sub(start))
	span.SetAttributes(attribute.String("phase.outcome", outcome), attribute.String("session.status", string(s.Status)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error(ctx, "phase error", zap.Error(err))
		return err
	}
	if s.LastError != nil && s.LastError.Phase == phase {
		span.SetStatus(codes.Error, s.LastError.Message)
		e.logger.Warn(ctx, "phase halted",
			zap.String("kind", string(s.LastError.Kind)),
			zap.String("error", s.LastError.Message))
	} else {
		e.logger.Info(ctx, "phase finished",
			zap.String("outcome", outcome),
			zap.String("next", string(s.Phase)),
			zap.String("status", string(s.Status)))
	}
	return nil
}

func phaseOutcome(s *Session, phase Phase) string {
	switch {
	case s.Status == StatusFailed:
		return "failed"
	case s.Status == StatusBlocked:
		return "blocked"
	case s.Await != AwaitNothing:
		return "suspended"
	case s.Phase != phase:
		return "advanced"
	}
	return "completed"
}

func (e *Engine) checkPrerequisites(ctx context.Context, s *Session) error {
	now := e.now()
	missing, err := e.c.Prerequisites.Missing(ctx, e.settings.Prerequisites)
	if err != nil {
		s.fail(newError(KindExternal, PhasePrerequisites, err, "checking prerequisites"), now)
		return nil
	}
	if len(missing) > 0 {
		werr := newError(KindMissingPrerequisite, PhasePrerequisites, nil,
			"missing required paths: %s", strings.Join(missing, ", "))
		s.LastError = werr.Info()
		var b strings.Builder
		b.WriteString("Cannot start: required paths are missing.\n")
		for _, p := range missing {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
		b.WriteString("Create them, then begin a new session.")
		s.Message = b.String()
		s.setStatus(StatusBlocked, string(KindMissingPrerequisite), now)
		return nil
	}
	s.Phase = PhaseUnderstand
	s.UpdatedAt = now
	return nil
}

// fetch always asks the tracker; the snapshot lives only for the caller.
func (e *Engine) fetch(ctx context.Context, s *Session, phase Phase) (*WorkItem, *Error) {
	item, err := e.c.Source.Fetch(ctx, s.Task)
	if err != nil {
		return nil, newError(KindExternal, phase, err, "fetching work item #%s", s.Task)
	}
	if item == nil {
		return nil, newError(KindStaleDataRisk, phase, nil, "tracker returned no data for work item #%s", s.Task)
	}
	if item.ID != string(s.Task) {
		return nil, newError(KindStaleDataRisk, phase, nil,
			"tracker returned work item #%s while working on #%s", item.ID, s.Task)
	}
	return item, nil
}

func (e *Engine) understand(ctx context.Context, s *Session) error {
	item, werr := e.fetch(ctx, s, PhaseUnderstand)
	if werr != nil {
		s.fail(werr, e.now())
		return nil
	}
	s.Understanding = e.c.Planner.Understand(item)
	s.Phase = PhasePlan
	s.UpdatedAt = e.now()
	return nil
}

func (e *Engine) plan(ctx context.Context, s *Session) error {
	item, werr := e.fetch(ctx, s, PhasePlan)
	if werr != nil {
		s.fail(werr, e.now())
		return nil
	}
	if s.Understanding == nil || s.Understanding.Revision != item.Revision {
		s.Understanding = e.c.Planner.Understand(item)
	}

	branch := e.targetBranch(ctx, s.Task)
	s.Plan = e.c.Planner.Plan(item, s.Understanding, branch, e.settings.ValidationCommands, s.RevisionNotes)
	s.Branch = branch
	s.Phase = PhaseConfirmPlan
	s.ask(GatePlanApproval, PlanApprovalQuestion(s.Task, branch), e.now())
	return nil
}

// targetBranch prefers the current branch when it already belongs to task.
func (e *Engine) targetBranch(ctx context.Context, task TaskRef) string {
	expected := ExpectedBranch(e.settings.BranchTemplate, task)
	if !e.vcsAvailable(ctx) {
		return expected
	}
	current, err := e.c.VCS.CurrentBranch(ctx)
	if err == nil && BranchMatches(current, expected, task) {
		return current
	}
	return expected
}

func (e *Engine) vcsAvailable(ctx context.Context) bool {
	return e.c.VCS != nil && e.c.VCS.Available(ctx)
}

func (e *Engine) confirmPlan(ctx context.Context, s *Session) error {
	now := e.now()
	g := s.Gate(GatePlanApproval)
	if g == nil {
		return fmt.Errorf("%s has not been asked", GatePlanApproval)
	}

	switch g.State {
	case GatePending:
		s.Await = AwaitAnswer
		return nil
	case GateDenied:
		werr := newError(KindGateDenied, PhaseConfirmPlan, nil, "plan for work item #%s was not approved", s.Task)
		s.LastError = werr.Info()
		s.Await = AwaitRevise
		s.Message = "Plan not approved. Nothing was changed. Revise the plan with new direction, or abandon the session."
		s.setStatus(StatusBlocked, string(KindGateDenied), now)
		return nil
	}

	if !e.vcsAvailable(ctx) {
		s.warn("version control unavailable: branch was not verified")
	} else {
		expected := ExpectedBranch(e.settings.BranchTemplate, s.Task)
		current, err := e.c.VCS.CurrentBranch(ctx)
		if err != nil {
			// Leave the approval in place; resume retries the guard.
			s.fail(newError(KindExternal, PhaseConfirmPlan, err, "reading current branch"), now)
			return nil
		}
		if !BranchMatches(current, expected, s.Task) {
			werr := newError(KindBranchMismatch, PhaseConfirmPlan, nil,
				"current branch %q does not match %q", current, expected)
			s.LastError = werr.Info()
			g.State = GatePending
			g.AnsweredAt = nil
			g.AskedAt = now
			s.Await = AwaitAnswer
			s.Message = fmt.Sprintf("Current branch is '%s' but work item #%s expects '%s'.\n"+
				"Switch to it (git switch -c %s), then answer again.\n%s",
				current, s.Task, expected, shellQuote(expected), g.Question)
			s.setStatus(StatusAwaitingConfirmation, string(KindBranchMismatch), now)
			return nil
		}
		s.Branch = current
	}

	if s.LastError != nil && s.LastError.Phase == PhaseConfirmPlan {
		s.LastError = nil
	}
	s.Phase = PhaseImplement
	s.Message = fmt.Sprintf("Implementing work item #%s on branch '%s'.", s.Task, s.Branch)
	s.setStatus(StatusImplementing, "plan approved", now)
	return nil
}

func (e *Engine) implement(ctx context.Context, s *Session) error {
	if !s.Approved(GatePlanApproval) {
		return fmt.Errorf("implement: %w", ErrGateNotApproved)
	}

	attempt := s.Attempts + 1
	req := ImplementRequest{
		SessionID: s.ID,
		Task:      s.Task,
		Plan:      s.Plan,
		Attempt:   attempt,
		Resumed:   s.ResumeRequested,
	}
	if s.Validation != nil && !s.Validation.Passed {
		req.PreviousFailure = s.Validation.Report
	}

	cs, err := e.c.Implementer.Implement(ctx, req)
	s.ResumeRequested = false
	now := e.now()

	switch {
	case errors.Is(err, ErrImplementationPending):
		s.Await = AwaitResume
		if s.LastError == nil || s.LastError.Kind != KindValidationFailure {
			s.Message = fmt.Sprintf("Make the planned changes on branch '%s', then resume the session to validate.", s.Branch)
		}
		s.setStatus(StatusImplementing, "awaiting edits", now)
		return nil
	case err != nil:
		s.fail(newError(KindExternal, PhaseImplement, err, "implementation attempt %d", attempt), now)
		return nil
	case cs == nil:
		s.fail(newError(KindExternal, PhaseImplement, nil, "implementation attempt %d produced no change set", attempt), now)
		return nil
	}

	cs.Attempt = attempt
	if cs.CollectedAt.IsZero() {
		cs.CollectedAt = now
	}
	s.Attempts = attempt
	s.ChangeSet = cs
	s.Phase = PhaseValidate
	s.setStatus(StatusImplementing, "change set collected", now)
	return nil
}

func (e *Engine) validate(ctx context.Context, s *Session) error {
	item, werr := e.fetch(ctx, s, PhaseValidate)
	if werr != nil {
		s.fail(werr, e.now())
		return nil
	}

	results, commandsPassed := e.c.Runner.Run(ctx, e.settings.ValidationCommands)
	for i := range results {
		results[i].Output = e.c.Scrubber.Scrub(results[i].Output)
		s.recordCommand(results[i].Command)
	}
	acceptance, acceptanceMet := reviewAcceptance(item.AcceptanceCriteria, s.ChangeSet, commandsPassed)

	now := e.now()
	passed := commandsPassed && acceptanceMet
	s.Validation = &ValidationResult{
		Commands:   results,
		Acceptance: acceptance,
		Passed:     passed,
		FinishedAt: now,
	}
	e.metrics.RecordValidation(passed)

	if !passed {
		report := failureReport(results, acceptance)
		s.Validation.Report = report
		werr := newError(KindValidationFailure, PhaseValidate, nil, "validation failed on attempt %d", s.Attempts)
		s.LastError = werr.Info()
		s.Message = report
		s.Phase = PhaseImplement
		s.Await = AwaitResume
		s.setStatus(StatusImplementing, string(KindValidationFailure), now)
		return nil
	}

	if s.LastError != nil && s.LastError.Kind == KindValidationFailure {
		s.LastError = nil
	}
	s.setStatus(StatusValidated, "validation passed", now)
	s.Phase = PhaseConfirmCommit
	s.ask(GateCommitApproval, CommitApprovalQuestion(s.Task, s.Branch), now)
	return nil
}

func (s *Session) recordCommand(cmd string) {
	for _, c := range s.CommandsRun {
		if c == cmd {
			return
		}
	}
	s.CommandsRun = append(s.CommandsRun, cmd)
}

// reviewAcceptance checks each criterion against the change set. A criterion
// is met when changes exist and every validation command passed.
func reviewAcceptance(criteria []string, cs *ChangeSet, commandsPassed bool) ([]AcceptanceCheck, bool) {
	noChanges := cs == nil || (cs.Enumerated && len(cs.Files) == 0)
	checks := make([]AcceptanceCheck, 0, len(criteria))
	all := !noChanges || len(criteria) == 0
	for _, c := range criteria {
		check := AcceptanceCheck{Criterion: c}
		switch {
		case noChanges:
			check.Note = "no changes were made"
		case !commandsPassed:
			check.Note = "validation commands failed"
		default:
			check.Met = true
			check.Note = "changes present and validation passed"
		}
		if !check.Met {
			all = false
		}
		checks = append(checks, check)
	}
	return checks, all
}

func failureReport(results []CommandResult, acceptance []AcceptanceCheck) string {
	var b strings.Builder
	for _, r := range results {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&b, "$ %s\n", r.Command)
		if out := strings.TrimRight(r.Output, "\n"); out != "" {
			b.WriteString(out)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "exit status %d\n\n", r.ExitCode)
	}
	for _, a := range acceptance {
		if !a.Met {
			fmt.Fprintf(&b, "Acceptance criterion not met: %s (%s)\n", a.Criterion, a.Note)
		}
	}
	if b.Len() == 0 {
		return "validation failed: no changes were made"
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) confirmCommit(ctx context.Context, s *Session) error {
	now := e.now()
	g := s.Gate(GateCommitApproval)
	if g == nil {
		return fmt.Errorf("%s has not been asked", GateCommitApproval)
	}

	switch g.State {
	case GatePending:
		s.Await = AwaitAnswer
		return nil
	case GateDenied:
		s.CommitDeclined = true
		s.Message = fmt.Sprintf("Commit declined. Changes remain uncommitted on branch '%s'.", s.Branch)
		s.Phase = PhaseUpdateWorkItem
		s.UpdatedAt = now
		return nil
	}

	if s.Commit != nil {
		// Committed on an earlier attempt.
		s.Phase = PhaseUpdateWorkItem
		return nil
	}

	title := ""
	if s.Plan != nil {
		title = s.Plan.Title
	}
	message := CommitMessage(s.Task, title)

	if !e.vcsAvailable(ctx) {
		werr := newError(KindVersionControlUnavailable, PhaseConfirmCommit, nil, "cannot commit from this environment")
		s.LastError = werr.Info()
		s.ManualCommands = ManualCommitCommands(message, e.settings.Remote, s.Branch)
		s.Message = "Version control is unavailable here. Run these commands to commit and push:\n" +
			strings.Join(s.ManualCommands, "\n")
		s.warn("version control unavailable: commit not performed")
		s.Phase = PhaseUpdateWorkItem
		s.UpdatedAt = now
		return nil
	}

	changes, err := e.c.VCS.Status(ctx)
	if err != nil {
		s.fail(newError(KindExternal, PhaseConfirmCommit, err, "reading working tree status"), now)
		return nil
	}
	if len(changes) == 0 {
		s.warn("working tree has no changes to commit")
		s.Message = "Nothing to commit."
		s.Phase = PhaseUpdateWorkItem
		s.UpdatedAt = now
		return nil
	}
	if err := e.c.VCS.StageAll(ctx); err != nil {
		s.fail(newError(KindExternal, PhaseConfirmCommit, err, "staging changes"), now)
		return nil
	}
	hash, err := e.c.VCS.Commit(ctx, message)
	if err != nil {
		s.fail(newError(KindExternal, PhaseConfirmCommit, err, "committing"), e.now())
		return nil
	}

	record := &CommitRecord{Hash: hash, Branch: s.Branch, Message: message, CommittedAt: e.now()}
	if err := e.c.VCS.Push(ctx, s.Branch); err != nil {
		manual := ManualPushCommand(e.settings.Remote, s.Branch)
		s.ManualCommands = []string{manual}
		s.warn(fmt.Sprintf("push failed: %v", err))
		s.Message = fmt.Sprintf("Committed %s but push failed. Push manually:\n%s", shortHash(hash), manual)
	} else {
		record.Pushed = true
		s.Message = fmt.Sprintf("Committed %s and pushed to '%s'.", shortHash(hash), s.Branch)
	}
	s.Commit = record
	s.Phase = PhaseUpdateWorkItem
	s.setStatus(StatusCommitted, "committed", e.now())
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func (e *Engine) updateWorkItem(ctx context.Context, s *Session) error {
	if s.Validation == nil || !s.Validation.Passed {
		return fmt.Errorf("update work item: validation has not passed")
	}

	if len(s.Updates) == 0 {
		body, err := RenderPlanComment(s)
		if err != nil {
			return err
		}
		if !e.post(ctx, s, PlanCommentTitle, body) {
			return nil
		}
	}
	if len(s.Updates) == 1 {
		body, err := RenderCompleteComment(s)
		if err != nil {
			return err
		}
		if !e.post(ctx, s, CompleteCommentTitle, body) {
			return nil
		}
	}

	now := e.now()
	if s.LastError != nil && s.LastError.Kind == KindExternal {
		s.LastError = nil
	}
	s.Await = AwaitNothing
	s.Message = fmt.Sprintf("Work item #%s updated with the plan and a completion summary.", s.Task)
	s.setStatus(StatusUpdated, "work item updated", now)
	return nil
}

func (e *Engine) post(ctx context.Context, s *Session, title, body string) bool {
	body = e.c.Scrubber.Scrub(body)
	if err := e.c.Source.PostComment(ctx, s.Task, body); err != nil {
		s.fail(newError(KindExternal, PhaseUpdateWorkItem, err, "posting %q comment", title), e.now())
		return false
	}
	s.Updates = append(s.Updates, Comment{Title: title, Body: body, PostedAt: e.now()})
	return true
}
