package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc101 = `title: Add login rate limiting
type: User Story
state: Active
revision: 3
description: |
  Lock accounts after repeated failed logins.
acceptance_criteria:
  - Five failed logins lock the account
links:
  - rel: parent
    url: https://tracker.example/90
`

func TestSource_Fetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "101.yaml"), []byte(doc101), 0o644))
	s, err := New(dir)
	require.NoError(t, err)

	item, err := s.Fetch(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, "101", item.ID)
	assert.Equal(t, "Add login rate limiting", item.Title)
	assert.Equal(t, "Lock accounts after repeated failed logins.", item.Description)
	assert.Equal(t, []string{"Five failed logins lock the account"}, item.AcceptanceCriteria)
	assert.Equal(t, 3, item.Revision)
	require.Len(t, item.Links, 1)
	assert.Equal(t, "parent", item.Links[0].Rel)

	// Edits on disk are visible to the next fetch.
	updated := strings.Replace(doc101, "revision: 3", "revision: 4", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "101.yaml"), []byte(updated), 0o644))
	item, err = s.Fetch(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, 4, item.Revision)
}

func TestSource_FetchErrors(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), "404")
	assert.ErrorContains(t, err, "not found")

	_, err = s.Fetch(context.Background(), "../etc/passwd")
	assert.ErrorContains(t, err, "invalid work item id")

	_, err = New("")
	assert.Error(t, err)
}

func TestSource_PostComment(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PostComment(ctx, "101", "## Implementation Plan\n"))
	require.NoError(t, s.PostComment(ctx, "101", "## Implementation Complete"))

	log, err := s.Comments("101")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(log, "## Implementation Plan"))
	assert.Less(t, strings.Index(log, "Implementation Plan"), strings.Index(log, "Implementation Complete"))
}
