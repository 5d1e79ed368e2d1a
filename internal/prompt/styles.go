// Package prompt renders sessions in the terminal and asks gate questions
// with bubbletea models.
package prompt

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			PaddingLeft(2)

	questionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true).
			MarginTop(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Padding(0, 1)

	choiceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

func statusBadge(s workflow.Status) string {
	switch s {
	case workflow.StatusUpdated, workflow.StatusCommitted, workflow.StatusValidated:
		return healthyStyle.Render("● " + string(s))
	case workflow.StatusAwaitingConfirmation, workflow.StatusImplementing:
		return warningStyle.Render("● " + string(s))
	default:
		return errorStyle.Render("● " + string(s))
	}
}

// RenderSession renders the parts of a session a user acts on.
func RenderSession(s *workflow.Session) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("implflow %s", s.ID)))
	b.WriteString("\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", label)), value)
	}
	row("Work item", valueStyle.Render(string(s.Task)))
	row("Status", statusBadge(s.Status))
	row("Phase", string(s.Phase))
	row("Branch", s.Branch)
	if s.Commit != nil {
		pushed := "not pushed"
		if s.Commit.Pushed {
			pushed = "pushed"
		}
		row("Commit", fmt.Sprintf("%s %s", s.Commit.Hash, dimStyle.Render("("+pushed+")")))
	}

	if s.Message != "" {
		b.WriteString("\n")
		b.WriteString(s.Message)
		b.WriteString("\n")
	}
	if len(s.ManualCommands) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("Run manually:"))
		b.WriteString("\n")
		for _, cmd := range s.ManualCommands {
			b.WriteString(commandStyle.Render(cmd))
			b.WriteString("\n")
		}
	}
	for _, w := range s.Warnings {
		b.WriteString(warningStyle.Render("warning: "))
		b.WriteString(w)
		b.WriteString("\n")
	}

	switch s.Await {
	case workflow.AwaitResume:
		b.WriteString(dimStyle.Render(fmt.Sprintf("\nRun `implflow resume %s` when ready.", s.ID)))
		b.WriteString("\n")
	case workflow.AwaitRevise:
		b.WriteString(dimStyle.Render(fmt.Sprintf("\nRun `implflow revise %s` with new notes, or abandon the session.", s.ID)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
