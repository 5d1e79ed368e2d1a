// Package tracker builds the configured work item source.
package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/tracker/azuredevops"
	"github.com/fyrsmithlabs/implflow/internal/tracker/file"
	"github.com/fyrsmithlabs/implflow/internal/tracker/github"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// New returns the source selected by cfg.Kind, rate limited to
// cfg.RequestsPerSecond.
func New(ctx context.Context, cfg config.TrackerConfig, logger *logging.Logger) (workflow.WorkItemSource, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var (
		src   workflow.WorkItemSource
		token config.Secret
		err   error
	)
	switch cfg.Kind {
	case config.TrackerAzureDevOps:
		token = cfg.AzureDevOps.Token
		src, err = azuredevops.New(ctx, cfg.AzureDevOps)
	case config.TrackerGitHub:
		token = cfg.GitHub.Token
		src, err = github.New(ctx, cfg.GitHub, logger)
	case config.TrackerFile, "":
		src, err = file.New(cfg.File.Dir)
	default:
		return nil, fmt.Errorf("unknown tracker kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s tracker: %w", cfg.Kind, err)
	}

	fields := []zap.Field{
		zap.String("kind", cfg.Kind),
		zap.Float64("requests_per_second", cfg.RequestsPerSecond),
	}
	if token.IsSet() {
		fields = append(fields, logging.Secret("token", token))
	}
	logger.Info(ctx, "tracker configured", fields...)
	return Limit(src, cfg.RequestsPerSecond), nil
}

// Limit wraps src so calls wait on a token bucket. rps <= 0 disables the
// limit.
func Limit(src workflow.WorkItemSource, rps float64) workflow.WorkItemSource {
	if rps <= 0 {
		return src
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &limited{src: src, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

type limited struct {
	src workflow.WorkItemSource
	lim *rate.Limiter
}

func (l *limited) Fetch(ctx context.Context, task workflow.TaskRef) (*workflow.WorkItem, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("tracker rate limit: %w", err)
	}
	return l.src.Fetch(ctx, task)
}

func (l *limited) PostComment(ctx context.Context, task workflow.TaskRef, markdown string) error {
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("tracker rate limit: %w", err)
	}
	return l.src.PostComment(ctx, task, markdown)
}
