// Package events publishes session transitions to NATS.
//
// Each transition is published as JSON to
//
//	<prefix>.<session id>.<status>
//
// so consumers can follow one session with "<prefix>.<id>.*" or every
// failure with "<prefix>.*.Failed".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "implflow.sessions"

// Publisher publishes workflow events on a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *logging.Logger
}

var _ workflow.EventPublisher = (*Publisher)(nil)

// Connect dials the configured NATS server.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("implflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	p.logger.Info(context.Background(), "connected to NATS", zap.String("url", cfg.URL))
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership of
// nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn { return p.nc }

// Publish sends e to its transition subject.
func (p *Publisher) Publish(ctx context.Context, e workflow.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, e.SessionID, string(e.To))
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug(ctx, "event published", zap.String("subject", subject))
	return nil
}

// SubscribeSession delivers every event of one session to fn until the
// subscription is drained.
func (p *Publisher) SubscribeSession(sessionID string, fn func(workflow.Event)) (*nats.Subscription, error) {
	subject := Subject(p.prefix, sessionID, "*")
	return p.nc.Subscribe(subject, func(msg *nats.Msg) {
		var e workflow.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			p.logger.Warn(context.Background(), "dropping malformed event",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(e)
	})
}

// Close drains the connection if Connect opened it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// Subject builds the subject for a session and status. Characters NATS
// treats as separators or wildcards are replaced in the session id.
func Subject(prefix, sessionID, status string) string {
	return prefix + "." + token(sessionID) + "." + status
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}

// Noop discards events.
type Noop struct{}

// Publish implements workflow.EventPublisher.
func (Noop) Publish(context.Context, workflow.Event) error { return nil }
