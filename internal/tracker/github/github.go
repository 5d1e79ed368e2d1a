// Package github treats GitHub issues as work items.
package github

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/tracker/markup"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// Source is a workflow.WorkItemSource over one repository's issues.
type Source struct {
	client *github.Client
	owner  string
	repo   string
	retry  RetryConfig
	logger *logging.Logger
	now    func() time.Time
}

var _ workflow.WorkItemSource = (*Source)(nil)

// New creates a source authenticated with the configured token.
func New(ctx context.Context, cfg config.GitHubConfig, logger *logging.Logger) (*Source, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	return NewWithClient(github.NewClient(oauth2.NewClient(ctx, ts)), cfg, logger)
}

// NewWithClient creates a source over an existing client.
func NewWithClient(client *github.Client, cfg config.GitHubConfig, logger *logging.Logger) (*Source, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Source{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		retry: RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff.Duration(),
		},
		logger: logger.Named("github"),
		now:    time.Now,
	}, nil
}

func issueNumber(task workflow.TaskRef) (int, error) {
	n, err := strconv.Atoi(string(task))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid issue number %q", task)
	}
	return n, nil
}

// Fetch reads the issue. Acceptance criteria come from checklist items.
func (s *Source) Fetch(ctx context.Context, task workflow.TaskRef) (*workflow.WorkItem, error) {
	n, err := issueNumber(task)
	if err != nil {
		return nil, err
	}

	var issue *github.Issue
	err = withRetry(ctx, s.retry, s.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = s.client.Issues.Get(ctx, s.owner, s.repo, n)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("get issue %s/%s#%d: %w", s.owner, s.repo, n, err)
	}

	kind := "Issue"
	if issue.IsPullRequest() {
		kind = "Pull Request"
	}
	item := &workflow.WorkItem{
		ID:                 strconv.Itoa(issue.GetNumber()),
		Type:               kind,
		Title:              issue.GetTitle(),
		State:              issue.GetState(),
		Description:        issue.GetBody(),
		AcceptanceCriteria: markup.Checklist(issue.GetBody()),
		URL:                issue.GetHTMLURL(),
		Revision:           int(issue.GetUpdatedAt().Unix()),
		FetchedAt:          s.now(),
	}
	for _, l := range issue.Labels {
		item.Links = append(item.Links, workflow.Link{Rel: "label", URL: l.GetURL(), Title: l.GetName()})
	}
	return item, nil
}

// PostComment creates an issue comment.
func (s *Source) PostComment(ctx context.Context, task workflow.TaskRef, markdown string) error {
	n, err := issueNumber(task)
	if err != nil {
		return err
	}
	err = withRetry(ctx, s.retry, s.logger, func() (*github.Response, error) {
		_, resp, err := s.client.Issues.CreateComment(ctx, s.owner, s.repo, n, &github.IssueComment{Body: github.String(markdown)})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("comment on %s/%s#%d: %w", s.owner, s.repo, n, err)
	}
	return nil
}
