// Package file reads work items from YAML files in a directory. It is the
// offline tracker used for local runs and tests.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// Document is the on-disk shape of <dir>/<id>.yaml.
type Document struct {
	ID                 string   `yaml:"id"`
	Type               string   `yaml:"type"`
	Title              string   `yaml:"title"`
	State              string   `yaml:"state"`
	Description        string   `yaml:"description"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	URL                string   `yaml:"url"`
	Revision           int      `yaml:"revision"`
	Links              []struct {
		Rel   string `yaml:"rel"`
		URL   string `yaml:"url"`
		Title string `yaml:"title"`
	} `yaml:"links"`
}

// Source is a directory of work item files. Comments are appended to
// <dir>/<id>.comments.md.
type Source struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

var _ workflow.WorkItemSource = (*Source)(nil)

// New returns a source rooted at dir.
func New(dir string) (*Source, error) {
	if dir == "" {
		return nil, fmt.Errorf("file tracker dir is required")
	}
	return &Source{dir: dir, now: time.Now}, nil
}

func (s *Source) path(task workflow.TaskRef, suffix string) (string, error) {
	id := string(task)
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid work item id %q", task)
	}
	return filepath.Join(s.dir, id+suffix), nil
}

// Fetch reads the file on every call.
func (s *Source) Fetch(ctx context.Context, task workflow.TaskRef) (*workflow.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(task, ".yaml")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("work item #%s not found in %s", task, s.dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading work item: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc.ID == "" {
		doc.ID = string(task)
	}

	item := &workflow.WorkItem{
		ID:                 doc.ID,
		Type:               doc.Type,
		Title:              doc.Title,
		State:              doc.State,
		Description:        strings.TrimSpace(doc.Description),
		AcceptanceCriteria: doc.AcceptanceCriteria,
		URL:                doc.URL,
		Revision:           doc.Revision,
		FetchedAt:          s.now(),
	}
	for _, l := range doc.Links {
		item.Links = append(item.Links, workflow.Link{Rel: l.Rel, URL: l.URL, Title: l.Title})
	}
	return item, nil
}

// PostComment appends markdown to the work item's comment log.
func (s *Source) PostComment(ctx context.Context, task workflow.TaskRef, markdown string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(task, ".comments.md")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening comment log: %w", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("<!-- %s -->\n%s\n\n---\n\n", s.now().UTC().Format(time.RFC3339), strings.TrimRight(markdown, "\n"))
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("writing comment: %w", err)
	}
	return nil
}

// Comments returns the raw comment log for task.
func (s *Source) Comments(task workflow.TaskRef) (string, error) {
	path, err := s.path(task, ".comments.md")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}
