package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

func TestNew_File(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5.yaml"), []byte("title: Tidy up\n"), 0o644))

	src, err := New(context.Background(), config.TrackerConfig{
		Kind:              config.TrackerFile,
		RequestsPerSecond: 100,
		File:              config.FileTrackerConfig{Dir: dir},
	}, nil)
	require.NoError(t, err)

	item, err := src.Fetch(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "Tidy up", item.Title)
}

func TestNew_LogsTokenLengthOnly(t *testing.T) {
	logger := logging.NewTestLogger()
	_, err := New(context.Background(), config.TrackerConfig{
		Kind:   config.TrackerGitHub,
		GitHub: config.GitHubConfig{Owner: "acme", Repo: "shop", Token: "ghp_abc123"},
	}, logger.Logger)
	require.NoError(t, err)

	logger.AssertField(t, "tracker configured", "token", "[REDACTED:10]")
	for _, entry := range logger.All() {
		assert.NotContains(t, fmt.Sprint(entry.ContextMap()), "ghp_abc123")
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), config.TrackerConfig{Kind: "jira"}, nil)
	assert.ErrorContains(t, err, "unknown tracker kind")

	_, err = New(context.Background(), config.TrackerConfig{Kind: config.TrackerGitHub}, nil)
	assert.ErrorContains(t, err, "token")

	_, err = New(context.Background(), config.TrackerConfig{Kind: config.TrackerAzureDevOps}, nil)
	assert.Error(t, err)
}

type countingSource struct{ fetches int }

func (c *countingSource) Fetch(context.Context, workflow.TaskRef) (*workflow.WorkItem, error) {
	c.fetches++
	return &workflow.WorkItem{}, nil
}

func (c *countingSource) PostComment(context.Context, workflow.TaskRef, string) error { return nil }

func TestLimit(t *testing.T) {
	inner := &countingSource{}
	assert.Same(t, workflow.WorkItemSource(inner), Limit(inner, 0))

	src := Limit(inner, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.Fetch(ctx, "1")
	require.NoError(t, err)
	// The bucket is empty and refills after a second, past the deadline.
	_, err = src.Fetch(ctx, "1")
	assert.ErrorContains(t, err, "rate limit")
	assert.Equal(t, 1, inner.fetches)
}
