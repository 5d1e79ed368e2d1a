// Package markup converts tracker text (HTML fields, markdown bodies) into
// the plain text and criteria lists of a workflow.WorkItem.
package markup

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	checklistItem = regexp.MustCompile(`^\s*[-*+]\s+\[[ xX]\]\s+(.+?)\s*$`)
	bulletItem    = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(?:\[[ xX]\]\s+)?(.+?)\s*$`)
	heading       = regexp.MustCompile(`^\s*#{1,6}\s+(.+?)\s*#*\s*$`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText renders an HTML fragment as plain text. Block elements become
// line breaks and list items are prefixed with "- ".
func HTMLToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			out := blankRuns.ReplaceAllString(trimLines(b.String()), "\n\n")
			return strings.TrimSpace(out)
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteString("\n")
			case "p", "div", "ul", "ol", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString("\n")
			case "li":
				b.WriteString("\n- ")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "ul", "ol", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteString("\n")
			}
		}
	}
}

func trimLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(strings.ReplaceAll(l, "\u00a0", " "))
	}
	return strings.Join(lines, "\n")
}

// Lines splits text into criteria: one per non-empty line, with bullet and
// checkbox markers removed.
func Lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := bulletItem.FindStringSubmatch(line); m != nil {
			line = m[1]
		}
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Checklist extracts acceptance criteria from a markdown body: every
// "- [ ]" or "- [x]" item, plus the bullets under an "Acceptance Criteria"
// heading.
func Checklist(markdown string) []string {
	var (
		out     []string
		seen    = map[string]bool{}
		section bool
	)
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, line := range strings.Split(markdown, "\n") {
		if m := heading.FindStringSubmatch(line); m != nil {
			section = strings.EqualFold(strings.TrimSuffix(m[1], ":"), "acceptance criteria")
			continue
		}
		if m := checklistItem.FindStringSubmatch(line); m != nil {
			add(m[1])
			continue
		}
		if section {
			if m := bulletItem.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		}
	}
	return out
}
