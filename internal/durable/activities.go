package durable

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/implflow/internal/logging"
	wf "github.com/fyrsmithlabs/implflow/internal/workflow"
)

// Activities run engine steps on a worker. Journal may be nil, in which
// case sessions live only in workflow state.
type Activities struct {
	Engine  *wf.Engine
	Journal *wf.Journal
}

// RecordInput is the Record activity argument.
type RecordInput struct {
	Session *wf.Session `json:"session"`
	Seen    int         `json:"seen"`
}

// Step runs the session's current phase and records the result.
func (a *Activities) Step(ctx context.Context, s *wf.Session) (*wf.Session, error) {
	ctx = logging.WithSession(ctx, s.ID, string(s.Task))
	seen := len(s.History)
	if err := a.Engine.Step(ctx, s); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "StepRejected", err)
	}
	if a.Journal != nil {
		if err := a.Journal.Record(ctx, s, seen); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Record persists a session changed by a signal.
func (a *Activities) Record(ctx context.Context, in RecordInput) error {
	if a.Journal == nil || in.Session == nil {
		return nil
	}
	return a.Journal.Record(logging.WithSession(ctx, in.Session.ID, string(in.Session.Task)), in.Session, in.Seen)
}
