package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/agent"
	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/durable"
	"github.com/fyrsmithlabs/implflow/internal/events"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/runner"
	"github.com/fyrsmithlabs/implflow/internal/store"
	"github.com/fyrsmithlabs/implflow/internal/telemetry"
	"github.com/fyrsmithlabs/implflow/internal/tracker"
	"github.com/fyrsmithlabs/implflow/internal/vcs"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
	"github.com/fyrsmithlabs/implflow/pkg/secrets"
)

// app holds the wired dependencies of one command invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	store    *store.Store
	events   *events.Publisher
	scrubber workflow.Scrubber
	metrics  *workflow.Metrics

	closers []func(context.Context) error
}

// newApp loads configuration and opens the ambient dependencies shared by
// every command: logging, telemetry, the session store, the event
// publisher and the secret scrubber. Logs always go to stderr; stdout
// carries command output or the MCP protocol.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	logCfg := logging.NewDefaultConfig()
	logCfg.Format = "console"
	if err := cfg.Section("logging", logCfg); err != nil {
		return nil, err
	}
	logCfg.Output = logging.OutputConfig{Stderr: true, OTEL: logCfg.Output.OTEL}
	if verbose {
		logCfg.Level = zap.DebugLevel
	}

	telCfg := telemetry.NewDefaultConfig()
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return nil, err
	}
	a.tel, err = telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.tel.Shutdown)

	a.logger, err = logging.NewLogger(logCfg, a.tel.LoggerProvider())
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = a.logger.Sync()
		return nil
	})
	if degraded := a.tel.Degraded(); degraded != nil {
		a.logger.Warn(ctx, "telemetry degraded", zap.Error(degraded))
	}
	a.metrics = workflow.NewMetrics(a.tel.Meter("github.com/fyrsmithlabs/implflow/internal/workflow"), a.logger.Underlying())

	a.store, err = store.Open(ctx, a.path(cfg.Store.Path))
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	if cfg.Events.Enabled {
		a.events, err = events.Connect(cfg.Events, a.logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.events.Close() })
	}

	a.scrubber = secrets.Noop{}
	if cfg.Secrets.Scrub {
		s, err := secrets.NewScrubber(secrets.Options{
			RepoRoot:      cfg.Workflow.RepoRoot,
			AllowlistPath: cfg.Secrets.AllowlistPath,
			Logger:        a.logger,
		})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.scrubber = s
	}
	return a, nil
}

// path resolves p against the repository root.
func (a *app) path(p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.cfg.Workflow.RepoRoot, p)
}

func (a *app) publisher() workflow.EventPublisher {
	if a.events == nil {
		return events.Noop{}
	}
	return a.events
}

// engine wires the collaborators that touch the repository and the tracker.
func (a *app) engine(ctx context.Context) (*workflow.Engine, error) {
	cfg := a.cfg
	root := cfg.Workflow.RepoRoot

	source, err := tracker.New(ctx, cfg.Tracker, a.logger)
	if err != nil {
		return nil, err
	}
	repo := vcs.New(root, cfg.VCS, a.logger)
	impl, err := agent.New(root, cfg.Agent, repo, a.logger)
	if err != nil {
		return nil, err
	}

	return workflow.NewEngine(workflow.Collaborators{
		Source:        source,
		VCS:           repo,
		Runner:        runner.New(root, cfg.Runner, a.logger),
		Implementer:   impl,
		Prerequisites: workflow.PathChecker{Root: root},
		Scrubber:      a.scrubber,
	}, workflow.Settings{
		Prerequisites:      cfg.Workflow.Prerequisites,
		BranchTemplate:     cfg.Workflow.BranchTemplate,
		ValidationCommands: cfg.Workflow.ValidationCommands,
		Remote:             cfg.VCS.Remote,
	},
		workflow.WithLogger(a.logger),
		workflow.WithMetrics(a.metrics),
		workflow.WithTracer(a.tel.Tracer("github.com/fyrsmithlabs/implflow/internal/workflow")),
	)
}

// journal persists and publishes sessions the way the controller does.
func (a *app) journal() *workflow.Journal {
	return workflow.NewJournal(a.store, a.publisher(), a.logger, a.metrics)
}

// service returns the session service: a Temporal client when durable
// execution is enabled, otherwise an in-process controller.
func (a *app) service(ctx context.Context) (workflow.Service, error) {
	if a.cfg.Temporal.Enabled {
		tc, err := durable.Dial(a.cfg.Temporal)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { tc.Close(); return nil })
		return durable.NewClient(tc, durable.ClientConfig{
			TaskQueue: a.cfg.Temporal.TaskQueue,
			Store:     a.store,
			Logger:    a.logger,
		})
	}

	engine, err := a.engine(ctx)
	if err != nil {
		return nil, err
	}
	return workflow.NewController(engine, a.store, workflow.ControllerConfig{
		Events:  a.publisher(),
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
