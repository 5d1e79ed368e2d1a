package prompt

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// FetchFunc loads the latest state of the watched session.
type FetchFunc func(ctx context.Context) (*workflow.Session, error)

type tickMsg time.Time

type sessionMsg struct{ session *workflow.Session }

type errMsg struct{ err error }

// WatchModel polls a session and re-renders it until it stops running.
type WatchModel struct {
	fetch    FetchFunc
	interval time.Duration
	session  *workflow.Session
	err      error
	quitting bool
}

// NewWatchModel creates a model polling fetch every interval.
func NewWatchModel(fetch FetchFunc, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return WatchModel{fetch: fetch, interval: interval}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return m.load()
}

func (m WatchModel) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := m.fetch(ctx)
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{s}
	}
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.load()
		}

	case tickMsg:
		return m, m.load()

	case sessionMsg:
		m.session, m.err = msg.session, nil
		// A suspended session will not change until someone acts on it.
		if m.session.Done() || !m.session.Runnable() {
			return m, tea.Quit
		}
		return m, tick(m.interval)

	case errMsg:
		m.err = msg.err
		return m, tick(m.interval)
	}
	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}
	var out string
	if m.session != nil {
		out = RenderSession(m.session) + "\n"
	}
	if m.err != nil {
		out += errorStyle.Render("✗ "+m.err.Error()) + "\n"
	}
	if m.session == nil && m.err == nil {
		out += dimStyle.Render("loading...") + "\n"
	}
	return out
}

// Session returns the last loaded session.
func (m WatchModel) Session() *workflow.Session {
	return m.session
}

// Watch runs a WatchModel until the session stops running. It returns
// ErrAborted, with the last loaded session, when the user quits first.
func Watch(ctx context.Context, in io.Reader, out io.Writer, fetch FetchFunc, interval time.Duration) (*workflow.Session, error) {
	final, err := tea.NewProgram(NewWatchModel(fetch, interval),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("run watch: %w", err)
	}
	m := final.(WatchModel)
	if m.quitting {
		return m.session, ErrAborted
	}
	return m.session, nil
}
