package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxSummaryBody = 600

// pathPattern matches repository paths mentioned in work item text.
var pathPattern = regexp.MustCompile("(?:^|[\\s`'\"(])((?:[\\w.-]+/)*[\\w-]+\\.(?:go|mod|sum|ts|tsx|js|jsx|py|rb|java|kt|cs|rs|c|h|cpp|sql|proto|ya?ml|json|toml|md|sh|tf))\\b")

// DefaultPlanner derives the understanding and plan from the work item text.
type DefaultPlanner struct {
	Now func() time.Time
}

func (p DefaultPlanner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Understand summarizes the requirements and lists open questions.
func (p DefaultPlanner) Understand(item *WorkItem) *Understanding {
	var b strings.Builder
	kind := item.Type
	if kind == "" {
		kind = "Work item"
	}
	fmt.Fprintf(&b, "%s #%s: %s", kind, item.ID, item.Title)
	if item.State != "" {
		fmt.Fprintf(&b, " [%s]", item.State)
	}
	if desc := firstParagraph(item.Description); desc != "" {
		b.WriteString("\n\n")
		b.WriteString(truncate(desc, maxSummaryBody))
	}
	if n := len(item.AcceptanceCriteria); n > 0 {
		fmt.Fprintf(&b, "\n\n%d acceptance criteria.", n)
	}

	var questions []string
	for _, line := range strings.Split(item.Description, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*> "))
		if strings.HasSuffix(line, "?") {
			questions = append(questions, line)
		}
	}
	if strings.TrimSpace(item.Description) == "" {
		questions = append(questions, "The work item has no description. What is the expected behavior?")
	}
	if len(item.AcceptanceCriteria) == 0 {
		questions = append(questions, "No acceptance criteria are defined. How will completion be judged?")
	}

	return &Understanding{
		Summary:       b.String(),
		OpenQuestions: questions,
		Revision:      item.Revision,
		FetchedAt:     item.FetchedAt,
	}
}

// Plan produces steps, files, tests and risks for the work item.
func (p DefaultPlanner) Plan(item *WorkItem, u *Understanding, branch string, validation []string, notes string) *Plan {
	steps := []string{fmt.Sprintf("Review work item #%s and linked items", item.ID)}
	if len(item.AcceptanceCriteria) == 0 {
		steps = append(steps, "Implement: "+item.Title)
	}
	for _, c := range item.AcceptanceCriteria {
		steps = append(steps, "Satisfy: "+c)
	}
	if len(validation) > 0 {
		steps = append(steps, "Run validation commands and fix failures")
	}

	var risks []string
	if u != nil {
		for _, q := range u.OpenQuestions {
			risks = append(risks, "Unresolved: "+q)
		}
	}
	if len(validation) == 0 {
		risks = append(risks, "No validation commands configured; validation relies on the acceptance review only.")
	}

	summary := item.Title
	if notes != "" {
		summary += "\n\nRevision notes: " + notes
	}

	return &Plan{
		Title:              item.Title,
		Summary:            summary,
		Steps:              steps,
		Files:              mentionedPaths(item),
		Tests:              append([]string(nil), validation...),
		Risks:              risks,
		AcceptanceCriteria: append([]string(nil), item.AcceptanceCriteria...),
		Branch:             branch,
		Notes:              notes,
		CreatedAt:          p.now(),
	}
}

func mentionedPaths(item *WorkItem) []string {
	seen := map[string]bool{}
	var out []string
	texts := append([]string{item.Title, item.Description}, item.AcceptanceCriteria...)
	for _, t := range texts {
		for _, m := range pathPattern.FindAllStringSubmatch(t, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				out = append(out, m[1])
			}
		}
	}
	return out
}

func firstParagraph(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "\n\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:runeBoundary(s, n)]) + "..."
}
