package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// ErrAborted is returned when the user quits a prompt without answering.
var ErrAborted = errors.New("prompt aborted")

// ConfirmModel asks one yes/no gate question.
type ConfirmModel struct {
	question string
	yes      bool
	answered bool
	quitting bool
}

// NewConfirmModel creates a model with "yes" preselected.
func NewConfirmModel(question string) ConfirmModel {
	return ConfirmModel{question: question, yes: true}
}

// Init implements tea.Model.
func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.yes, m.answered = true, true
		return m, tea.Quit
	case "n", "N":
		m.yes, m.answered = false, true
		return m, tea.Quit
	case "left", "right", "tab", "h", "l":
		m.yes = !m.yes
	case "enter":
		m.answered = true
		return m, tea.Quit
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m ConfirmModel) View() string {
	if m.answered || m.quitting {
		return ""
	}
	yes, no := choiceStyle.Render("Yes"), choiceStyle.Render("No")
	if m.yes {
		yes = selectedStyle.Render("Yes")
	} else {
		no = selectedStyle.Render("No")
	}
	return fmt.Sprintf("%s\n%s %s\n%s\n",
		questionStyle.Render(m.question), yes, no,
		dimStyle.Render("y/n, ←/→ and enter, q to quit"))
}

// Answer returns the chosen answer, or ErrAborted.
func (m ConfirmModel) Answer() (workflow.Answer, error) {
	if !m.answered {
		return "", ErrAborted
	}
	if m.yes {
		return workflow.AnswerYes, nil
	}
	return workflow.AnswerNo, nil
}

// Confirm runs a ConfirmModel on in and out.
func Confirm(ctx context.Context, in io.Reader, out io.Writer, question string) (workflow.Answer, error) {
	final, err := tea.NewProgram(NewConfirmModel(question),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	).Run()
	if err != nil {
		return "", fmt.Errorf("run confirm prompt: %w", err)
	}
	return final.(ConfirmModel).Answer()
}
