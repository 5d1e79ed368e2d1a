// Package vcs implements workflow.VersionControl on a git working tree.
//
// Status, staging, commits and branch detection go through go-git. Push
// shells out to the git binary so the user's credential helpers and SSH
// agent apply.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// ErrDetachedHead is returned by CurrentBranch when HEAD is not a branch.
var ErrDetachedHead = errors.New("HEAD is detached")

// Repo is a git working tree rooted at a directory.
type Repo struct {
	root        string
	gitBinary   string
	remote      string
	authorName  string
	authorEmail string
	logger      *logging.Logger
}

var _ workflow.VersionControl = (*Repo)(nil)

// New returns a Repo for the working tree containing root.
func New(root string, cfg config.VCSConfig, logger *logging.Logger) *Repo {
	if logger == nil {
		logger = logging.NewNop()
	}
	bin := cfg.GitBinary
	if bin == "" {
		bin = "git"
	}
	remote := cfg.Remote
	if remote == "" {
		remote = "origin"
	}
	return &Repo{
		root:        root,
		gitBinary:   bin,
		remote:      remote,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
		logger:      logger.Named("vcs"),
	}
}

func (r *Repo) open() (*git.Repository, error) {
	return git.PlainOpenWithOptions(r.root, &git.PlainOpenOptions{DetectDotGit: true})
}

func (r *Repo) worktree() (*git.Worktree, error) {
	repo, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", r.root, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	return wt, nil
}

// Available reports whether root is inside a git repository and the git
// binary used for push is installed.
func (r *Repo) Available(ctx context.Context) bool {
	if _, err := r.open(); err != nil {
		r.logger.Debug(ctx, "no git repository", zap.String("root", r.root), zap.Error(err))
		return false
	}
	if _, err := exec.LookPath(r.gitBinary); err != nil {
		r.logger.Debug(ctx, "git binary not found", zap.String("binary", r.gitBinary))
		return false
	}
	return true
}

// Status lists changed paths, sorted.
func (r *Repo) Status(ctx context.Context) ([]workflow.FileChange, error) {
	wt, err := r.worktree()
	if err != nil {
		return nil, err
	}
	st, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}

	paths := make([]string, 0, len(st))
	for p := range st {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var changes []workflow.FileChange
	for _, p := range paths {
		if kind, ok := changeKind(st[p]); ok {
			changes = append(changes, workflow.FileChange{Path: p, Kind: kind})
		}
	}
	return changes, nil
}

func changeKind(fs *git.FileStatus) (workflow.ChangeKind, bool) {
	switch {
	case fs.Worktree == git.Untracked:
		return workflow.ChangeUntracked, true
	case fs.Staging == git.Deleted || fs.Worktree == git.Deleted:
		return workflow.ChangeDeleted, true
	case fs.Staging == git.Renamed || fs.Worktree == git.Renamed:
		return workflow.ChangeRenamed, true
	case fs.Staging == git.Added:
		return workflow.ChangeAdded, true
	case fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified:
		return "", false
	}
	return workflow.ChangeModified, true
}

// StageAll stages every change, including deletions.
func (r *Repo) StageAll(ctx context.Context) error {
	wt, err := r.worktree()
	if err != nil {
		return err
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	return nil
}

// Commit records the index and returns the new commit hash. The author
// falls back to the repository's git config when not configured.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	wt, err := r.worktree()
	if err != nil {
		return "", err
	}
	opts := &git.CommitOptions{}
	if r.authorName != "" && r.authorEmail != "" {
		opts.Author = &object.Signature{Name: r.authorName, Email: r.authorEmail, When: time.Now()}
	}
	hash, err := wt.Commit(message, opts)
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	r.logger.Info(ctx, "committed", zap.String("hash", hash.String()))
	return hash.String(), nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", fmt.Errorf("opening repository at %s: %w", r.root, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}

// Push pushes branch to the configured remote and sets its upstream.
func (r *Repo) Push(ctx context.Context, branch string) error {
	cmd := exec.CommandContext(ctx, r.gitBinary, "push", "-u", r.remote, branch)
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git push %s %s: %w\n%s", r.remote, branch, err, strings.TrimSpace(string(out)))
	}
	r.logger.Info(ctx, "pushed", zap.String("remote", r.remote), zap.String("branch", branch))
	return nil
}
