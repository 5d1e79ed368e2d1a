package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Fetch(ctx context.Context, task TaskRef) (*WorkItem, error) {
	args := m.Called(ctx, task)
	item, _ := args.Get(0).(*WorkItem)
	return item, args.Error(1)
}

func (m *MockSource) PostComment(ctx context.Context, task TaskRef, markdown string) error {
	args := m.Called(ctx, task, markdown)
	return args.Error(0)
}

// posted returns the bodies of every PostComment call in order.
func (m *MockSource) posted() []string {
	var bodies []string
	for _, c := range m.Calls {
		if c.Method == "PostComment" {
			bodies = append(bodies, c.Arguments.String(2))
		}
	}
	return bodies
}

type MockVCS struct {
	mock.Mock
}

func (m *MockVCS) Available(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockVCS) Status(ctx context.Context) ([]FileChange, error) {
	args := m.Called(ctx)
	changes, _ := args.Get(0).([]FileChange)
	return changes, args.Error(1)
}

func (m *MockVCS) StageAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockVCS) Commit(ctx context.Context, message string) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func (m *MockVCS) Push(ctx context.Context, branch string) error {
	return m.Called(ctx, branch).Error(0)
}

func (m *MockVCS) CurrentBranch(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, commands []string) ([]CommandResult, bool) {
	args := m.Called(ctx, commands)
	results, _ := args.Get(0).([]CommandResult)
	// Copy so the engine's scrubbing does not leak into later calls.
	return append([]CommandResult(nil), results...), args.Bool(1)
}

type MockImplementer struct {
	mock.Mock
}

func (m *MockImplementer) Implement(ctx context.Context, req ImplementRequest) (*ChangeSet, error) {
	args := m.Called(ctx, req)
	cs, _ := args.Get(0).(*ChangeSet)
	if cs != nil {
		copied := *cs
		cs = &copied
	}
	return cs, args.Error(1)
}

type stubPrereqs struct {
	missing []string
}

func (s stubPrereqs) Missing(context.Context, []string) ([]string, error) {
	return s.missing, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, len(p.events))
	for i, e := range p.events {
		out[i] = e.To
	}
	return out
}

type replaceScrubber struct {
	secret string
}

func (r replaceScrubber) Scrub(text string) string {
	return strings.ReplaceAll(text, r.secret, "REDACTED")
}

// fakeClock advances one second per reading.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

const testValidation = "go test ./..."

func item101() *WorkItem {
	return &WorkItem{
		ID:                 "101",
		Type:               "User Story",
		Title:              "Add login rate limiting",
		State:              "Active",
		Description:        "Lock accounts after repeated failed logins in auth/login.go.",
		AcceptanceCriteria: []string{"Five failed logins lock the account"},
		Revision:           3,
	}
}

func changes() *ChangeSet {
	return &ChangeSet{
		Files:      []FileChange{{Path: "auth/login.go", Kind: ChangeModified}},
		Enumerated: true,
	}
}

func passing() []CommandResult {
	return []CommandResult{{Command: testValidation, Output: "ok  \tauth\t0.12s", Passed: true}}
}

type harness struct {
	source    *MockSource
	vcs       *MockVCS
	runner    *MockRunner
	impl      *MockImplementer
	store     *MemoryStore
	events    *recordingPublisher
	engine    *Engine
	ctrl      *Controller
	collab    Collaborators
	settings  Settings
	clock     *fakeClock
	engineOps []EngineOption
}

type harnessOption func(*harness)

func withPrereqs(missing ...string) harnessOption {
	return func(h *harness) { h.collab.Prerequisites = stubPrereqs{missing: missing} }
}

func withoutVCS() harnessOption {
	return func(h *harness) { h.collab.VCS = nil }
}

func withScrubber(s Scrubber) harnessOption {
	return func(h *harness) { h.collab.Scrubber = s }
}

func withEngineOptions(opts ...EngineOption) harnessOption {
	return func(h *harness) { h.engineOps = append(h.engineOps, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		source: &MockSource{},
		vcs:    &MockVCS{},
		runner: &MockRunner{},
		impl:   &MockImplementer{},
		store:  NewMemoryStore(),
		events: &recordingPublisher{},
		clock:  newFakeClock(),
		settings: Settings{
			Prerequisites:      []string{"README.md"},
			ValidationCommands: []string{testValidation},
		},
	}
	h.collab = Collaborators{
		Source:        h.source,
		VCS:           h.vcs,
		Runner:        h.runner,
		Implementer:   h.impl,
		Prerequisites: stubPrereqs{},
	}
	for _, opt := range opts {
		opt(h)
	}

	engine, err := NewEngine(h.collab, h.settings, append([]EngineOption{WithClock(h.clock.Now)}, h.engineOps...)...)
	require.NoError(t, err)
	h.engine = engine

	n := 0
	ctrl, err := NewController(engine, h.store, ControllerConfig{
		Events: h.events,
		NewID: func() string {
			n++
			return "sess-" + string(rune('0'+n))
		},
	})
	require.NoError(t, err)
	h.ctrl = ctrl

	t.Cleanup(func() {
		h.source.AssertExpectations(t)
		h.vcs.AssertExpectations(t)
		h.runner.AssertExpectations(t)
		h.impl.AssertExpectations(t)
	})
	return h
}

// onBranch makes version control available on branch.
func (h *harness) onBranch(branch string) {
	h.vcs.On("Available", mock.Anything).Return(true)
	h.vcs.On("CurrentBranch", mock.Anything).Return(branch, nil)
}

// expectCommit expects a clean commit and push of message to branch.
func (h *harness) expectCommit(message, branch, hash string) {
	h.vcs.On("Status", mock.Anything).Return(changes().Files, nil)
	h.vcs.On("StageAll", mock.Anything).Return(nil)
	h.vcs.On("Commit", mock.Anything, message).Return(hash, nil)
	h.vcs.On("Push", mock.Anything, branch).Return(nil)
}

func historyStatuses(s *Session) []Status {
	out := make([]Status, len(s.History))
	for i, tr := range s.History {
		out[i] = tr.To
	}
	return out
}
