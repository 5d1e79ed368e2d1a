package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/logging"
)

// Journal persists sessions and publishes their new transitions. Both the
// in-process Controller and the durable activities write through it.
type Journal struct {
	store   SessionStore
	events  EventPublisher
	logger  *logging.Logger
	metrics *Metrics
}

// NewJournal returns a Journal. events, logger and metrics may be nil.
func NewJournal(store SessionStore, events EventPublisher, logger *logging.Logger, metrics *Metrics) *Journal {
	if events == nil {
		events = noopPublisher{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Journal{store: store, events: events, logger: logger, metrics: metrics}
}

// Store returns the underlying session store.
func (j *Journal) Store() SessionStore { return j.store }

// Record validates and saves s, then publishes every transition after the
// first seen entries of its history. Publish failures are logged only.
func (j *Journal) Record(ctx context.Context, s *Session, seen int) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to save session %s: %w", s.ID, err)
	}
	if err := j.store.Save(ctx, s); err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	if seen < 0 || seen > len(s.History) {
		seen = len(s.History)
	}
	for _, t := range s.History[seen:] {
		j.metrics.RecordTransition(t.To)
		ev := Event{
			SessionID: s.ID,
			Task:      s.Task,
			From:      t.From,
			To:        t.To,
			Phase:     t.Phase,
			Reason:    t.Reason,
			Message:   s.Message,
			At:        t.At,
		}
		if err := j.events.Publish(ctx, ev); err != nil {
			j.logger.Warn(ctx, "publishing session event", zap.String("session.id", s.ID), zap.Error(err))
		}
	}
	return nil
}
