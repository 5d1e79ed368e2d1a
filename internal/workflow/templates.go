package workflow

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"
)

// Comment titles posted to the tracker.
const (
	PlanCommentTitle     = "Implementation Plan"
	CompleteCommentTitle = "Implementation Complete"
	CommandsRunHeading   = "Commands Run"
)

const maxSummaryLen = 72

// PlanApprovalQuestion is the gate 1 prompt.
func PlanApprovalQuestion(task TaskRef, branch string) string {
	return fmt.Sprintf("Proceed with implementing work item #%s on branch '%s'? (yes/no)", task, branch)
}

// CommitApprovalQuestion is the gate 2 prompt.
func CommitApprovalQuestion(task TaskRef, branch string) string {
	return fmt.Sprintf("Commit and push the changes for work item #%s to branch '%s'? (yes/no)", task, branch)
}

// CommitMessage returns `Work item #<id>: <short summary>`.
func CommitMessage(task TaskRef, summary string) string {
	return fmt.Sprintf("Work item #%s: %s", task, ShortSummary(summary))
}

// ShortSummary collapses whitespace and truncates to a commit subject length.
func ShortSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := strings.LastIndex(s[:maxSummaryLen], " ")
	if cut < maxSummaryLen/2 {
		cut = runeBoundary(s, maxSummaryLen)
	}
	return strings.TrimSpace(s[:cut])
}

// runeBoundary returns the largest index <= n that does not split a rune.
func runeBoundary(s string, n int) int {
	for n > 0 && n < len(s) && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// ManualCommitCommands are the commands a user runs when commit could not
// happen here.
func ManualCommitCommands(message, remote, branch string) []string {
	return []string{
		"git status",
		"git add -A",
		"git commit -m " + shellQuote(message),
		ManualPushCommand(remote, branch),
	}
}

// ManualPushCommand pushes branch and sets its upstream.
func ManualPushCommand(remote, branch string) string {
	return fmt.Sprintf("git push -u %s %s", shellQuote(remote), shellQuote(branch))
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var planTemplate = template.Must(template.New("plan").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`## {{.Title}}

**Work item:** #{{.Task}}{{with .Plan.Title}} {{.}}{{end}}
**Branch:** ` + "`{{.Plan.Branch}}`" + `

{{.Plan.Summary}}

### Steps
{{range $i, $s := .Plan.Steps}}{{inc $i}}. {{$s}}
{{end}}{{if .Plan.Files}}
### Files
{{range .Plan.Files}}- ` + "`{{.}}`" + `
{{end}}{{end}}
### Test Strategy
{{if .Plan.Tests}}{{range .Plan.Tests}}- ` + "`{{.}}`" + `
{{end}}{{else}}- No validation commands configured; acceptance criteria are reviewed manually.
{{end}}{{if .Plan.Risks}}
### Risks
{{range .Plan.Risks}}- {{.}}
{{end}}{{end}}`))

var completeTemplate = template.Must(template.New("complete").Parse(`## {{.Title}}

**Work item:** #{{.Task}}{{with .Plan}} {{.Title}}{{end}}

{{if .ChangeSet}}### Files Changed
{{if .ChangeSet.Files}}{{range .ChangeSet.Files}}- ` + "`{{.Path}}`" + ` ({{.Kind}})
{{end}}{{else if .ChangeSet.Enumerated}}- No file changes recorded.
{{else}}- File list unavailable (version control not available).
{{end}}
{{end}}### Validation
{{if .Validation}}{{range .Validation.Commands}}- ` + "`{{.Command}}`" + `: {{if .Passed}}passed{{else}}failed (exit {{.ExitCode}}){{end}}
{{end}}{{range .Validation.Acceptance}}- [{{if .Met}}x{{else}} {{end}}] {{.Criterion}}{{with .Note}} ({{.}}){{end}}
{{end}}{{end}}
### {{.CommandsHeading}}
` + "```" + `
{{range .CommandsRun}}{{.}}
{{end}}` + "```" + `
{{if .Commit}}
**Commit:** ` + "`{{.Commit.Hash}}`" + ` on ` + "`{{.Commit.Branch}}`" + `{{if not .Commit.Pushed}} (not pushed){{end}}
{{else if .CommitDeclined}}
Commit declined. Changes remain uncommitted on branch ` + "`{{.Branch}}`" + `.
{{end}}{{if .ManualCommands}}
Run locally to finish:
` + "```" + `
{{range .ManualCommands}}{{.}}
{{end}}` + "```" + `
{{end}}`))

type commentData struct {
	*Session
	Title           string
	CommandsHeading string
}

// RenderPlanComment renders the "Implementation Plan" comment.
func RenderPlanComment(s *Session) (string, error) {
	if s.Plan == nil {
		return "", fmt.Errorf("session %s has no plan", s.ID)
	}
	return render(planTemplate, commentData{Session: s, Title: PlanCommentTitle})
}

// RenderCompleteComment renders the "Implementation Complete" comment.
func RenderCompleteComment(s *Session) (string, error) {
	return render(completeTemplate, commentData{Session: s, Title: CompleteCommentTitle, CommandsHeading: CommandsRunHeading})
}

func render(t *template.Template, data commentData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s comment: %w", t.Name(), err)
	}
	return buf.String(), nil
}
