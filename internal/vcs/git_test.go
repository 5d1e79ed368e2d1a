package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

var testAuthor = config.VCSConfig{AuthorName: "Test", AuthorEmail: "test@example.com"}

// setupRepo creates a repository with one commit on branch.
func setupRepo(t *testing.T, branch string) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	writeFile(t, dir, "README.md", "# test\n")
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	if branch != "" {
		require.NoError(t, wt.Checkout(&git.CheckoutOptions{
			Branch: plumbing.NewBranchReferenceName(branch),
			Create: true,
		}))
	}
	return dir, repo
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRepo_CurrentBranch(t *testing.T) {
	dir, _ := setupRepo(t, "feature/101")
	r := New(dir, testAuthor, nil)

	branch, err := r.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feature/101", branch)

	_, err = New(t.TempDir(), testAuthor, nil).CurrentBranch(context.Background())
	assert.Error(t, err)
}

func TestRepo_StatusStageCommit(t *testing.T) {
	ctx := context.Background()
	dir, repo := setupRepo(t, "feature/101")
	r := New(dir, testAuthor, nil)

	writeFile(t, dir, "README.md", "# changed\n")
	writeFile(t, dir, "auth/login.go", "package auth\n")

	changes, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []workflow.FileChange{
		{Path: "README.md", Kind: workflow.ChangeModified},
		{Path: "auth/login.go", Kind: workflow.ChangeUntracked},
	}, changes)

	require.NoError(t, r.StageAll(ctx))
	changes, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, changes, workflow.FileChange{Path: "auth/login.go", Kind: workflow.ChangeAdded})

	hash, err := r.Commit(ctx, "Work item #101: Add login rate limiting")
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head.Hash().String())
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Work item #101: Add login rate limiting", commit.Message)
	assert.Equal(t, "test@example.com", commit.Author.Email)

	changes, err = r.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRepo_Available(t *testing.T) {
	assert.False(t, New(t.TempDir(), config.VCSConfig{}, nil).Available(context.Background()))

	dir, _ := setupRepo(t, "")
	assert.False(t, New(dir, config.VCSConfig{GitBinary: "definitely-not-git"}, nil).Available(context.Background()))
}

func TestRepo_Push(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	ctx := context.Background()
	dir, repo := setupRepo(t, "feature/101")

	remoteDir := t.TempDir()
	_, err := git.PlainInit(remoteDir, true)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)

	r := New(dir, testAuthor, nil)
	assert.True(t, r.Available(ctx))
	require.NoError(t, r.Push(ctx, "feature/101"))

	remote, err := git.PlainOpen(remoteDir)
	require.NoError(t, err)
	_, err = remote.Reference(plumbing.NewBranchReferenceName("feature/101"), true)
	assert.NoError(t, err)

	err = New(dir, config.VCSConfig{Remote: "nowhere"}, nil).Push(ctx, "feature/101")
	assert.Error(t, err)
}
