package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/logging"
)

// Service is the operation surface shared by the CLI, MCP and HTTP front
// ends. Controller runs sessions in-process; the durable package provides a
// Temporal-backed implementation.
type Service interface {
	Begin(ctx context.Context, task TaskRef) (*Session, error)
	// Respond answers gate. An empty gate answers whichever gate is pending.
	Respond(ctx context.Context, id string, gate GateID, answer Answer) (*Session, error)
	Resume(ctx context.Context, id string) (*Session, error)
	Revise(ctx context.Context, id, notes string) (*Session, error)
	Abandon(ctx context.Context, id string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, filter ListFilter) ([]*Session, error)
}

// ControllerConfig holds the optional dependencies of a Controller.
type ControllerConfig struct {
	Events  EventPublisher
	Logger  *logging.Logger
	Metrics *Metrics
	// NewID generates session ids. Defaults to random UUIDs.
	NewID func() string
}

// Controller drives sessions to their next suspension point and persists
// them after every phase.
type Controller struct {
	engine  *Engine
	store   SessionStore
	journal *Journal
	logger  *logging.Logger
	metrics *Metrics
	newID   func() string

	beginMu sync.Mutex
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ Service = (*Controller)(nil)

// NewController creates a controller over engine and store.
func NewController(engine *Engine, store SessionStore, cfg ControllerConfig) (*Controller, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	c := &Controller{
		engine:  engine,
		store:   store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		newID:   cfg.NewID,
		locks:   make(map[string]*sync.Mutex),
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.journal = NewJournal(store, cfg.Events, c.logger, cfg.Metrics)
	if c.newID == nil {
		c.newID = func() string { return uuid.NewString() }
	}
	return c, nil
}

// NormalizeTask trims whitespace and a leading '#'.
func NormalizeTask(task TaskRef) TaskRef {
	return TaskRef(strings.TrimPrefix(strings.TrimSpace(string(task)), "#"))
}

// Begin starts a session for task and runs it to the first suspension.
func (c *Controller) Begin(ctx context.Context, task TaskRef) (*Session, error) {
	task = NormalizeTask(task)
	if task == "" {
		return nil, ErrEmptyTask
	}

	c.beginMu.Lock()
	active, err := c.store.ActiveForTask(ctx, task)
	if err != nil {
		c.beginMu.Unlock()
		return nil, fmt.Errorf("checking active sessions: %w", err)
	}
	if active != nil {
		c.beginMu.Unlock()
		return active, fmt.Errorf("%w: session %s for #%s", ErrActiveSession, active.ID, task)
	}
	s := NewSession(c.newID(), task, c.engine.Now())
	seen := 0
	if err := c.save(ctx, s, &seen); err != nil {
		c.beginMu.Unlock()
		return nil, err
	}
	unlock := c.lock(s.ID)
	c.beginMu.Unlock()
	defer unlock()

	c.logger.Info(logging.WithSession(ctx, s.ID, string(task)), "session started")
	return s, c.run(ctx, s, seen)
}

// Respond answers a gate and continues the session.
func (c *Controller) Respond(ctx context.Context, id string, gate GateID, answer Answer) (*Session, error) {
	return c.continueWith(ctx, id, func(s *Session) error {
		if gate == "" {
			if g := s.PendingGate(); g != nil {
				gate = g.ID
			}
		}
		if err := s.Answer(gate, answer, c.engine.Now()); err != nil {
			return err
		}
		c.metrics.RecordGate(ctx, gate, answer)
		c.logger.Info(logging.WithSession(ctx, s.ID, string(s.Task)), "gate answered",
			zap.String("gate", string(gate)), zap.String("answer", string(answer)))
		return nil
	})
}

// Resume retries the phase a session is waiting on.
func (c *Controller) Resume(ctx context.Context, id string) (*Session, error) {
	return c.continueWith(ctx, id, func(s *Session) error {
		return s.RequestResume(c.engine.Now())
	})
}

// Revise replans a session whose plan was not approved.
func (c *Controller) Revise(ctx context.Context, id, notes string) (*Session, error) {
	return c.continueWith(ctx, id, func(s *Session) error {
		return s.Revise(notes, c.engine.Now())
	})
}

// Abandon ends a session without further action.
func (c *Controller) Abandon(ctx context.Context, id string) (*Session, error) {
	unlock := c.lock(id)
	defer unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := len(s.History)
	if err := s.Abandon(c.engine.Now()); err != nil {
		return s, err
	}
	if err := c.save(ctx, s, &seen); err != nil {
		return s, err
	}
	c.logger.Info(logging.WithSession(ctx, s.ID, string(s.Task)), "session abandoned")
	return s, nil
}

// Get returns a stored session.
func (c *Controller) Get(ctx context.Context, id string) (*Session, error) {
	return c.store.Get(ctx, id)
}

// List returns stored sessions, newest first.
func (c *Controller) List(ctx context.Context, filter ListFilter) ([]*Session, error) {
	return c.store.List(ctx, filter)
}

func (c *Controller) continueWith(ctx context.Context, id string, apply func(*Session) error) (*Session, error) {
	unlock := c.lock(id)
	defer unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := len(s.History)
	if err := apply(s); err != nil {
		return s, err
	}
	if err := c.save(ctx, s, &seen); err != nil {
		return s, err
	}
	return s, c.run(ctx, s, seen)
}

func (c *Controller) run(ctx context.Context, s *Session, seen int) error {
	err := c.engine.Run(ctx, s, func(ctx context.Context, s *Session) error {
		return c.save(ctx, s, &seen)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.Error(logging.WithSession(ctx, s.ID, string(s.Task)), "session step failed", zap.Error(err))
	}
	return err
}

func (c *Controller) save(ctx context.Context, s *Session, seen *int) error {
	if err := c.journal.Record(ctx, s, *seen); err != nil {
		return err
	}
	*seen = len(s.History)
	return nil
}

func (c *Controller) lock(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}
