package prompt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// NotesModel collects one line of revision notes.
type NotesModel struct {
	input    textinput.Model
	done     bool
	quitting bool
}

// NewNotesModel creates a focused notes input.
func NewNotesModel() NotesModel {
	ti := textinput.New()
	ti.Placeholder = "what should the revised plan change?"
	ti.CharLimit = 2000
	ti.Width = 72
	ti.Focus()
	return NotesModel{input: ti}
}

// Init implements tea.Model.
func (m NotesModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m NotesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			if strings.TrimSpace(m.input.Value()) == "" {
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m NotesModel) View() string {
	if m.done || m.quitting {
		return ""
	}
	return fmt.Sprintf("%s\n%s\n%s\n",
		questionStyle.Render("Revision notes"),
		m.input.View(),
		dimStyle.Render("enter to submit, esc to cancel"))
}

// Notes returns the entered notes, or ErrAborted.
func (m NotesModel) Notes() (string, error) {
	if !m.done {
		return "", ErrAborted
	}
	return strings.TrimSpace(m.input.Value()), nil
}

// AskNotes runs a NotesModel on in and out.
func AskNotes(ctx context.Context, in io.Reader, out io.Writer) (string, error) {
	final, err := tea.NewProgram(NewNotesModel(),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	).Run()
	if err != nil {
		return "", fmt.Errorf("run notes prompt: %w", err)
	}
	return final.(NotesModel).Notes()
}
