package workflow

import (
	"strings"
	"unicode"
)

// ExpectedBranch renders the branch template for task, replacing {id}.
func ExpectedBranch(template string, task TaskRef) string {
	return strings.ReplaceAll(template, "{id}", string(task))
}

// BranchMatches reports whether current is an acceptable branch for task:
// either exactly the expected branch, or a branch containing the task id as
// a whole token ("feature/101-login" matches 101, "feature/1010" does not).
func BranchMatches(current, expected string, task TaskRef) bool {
	if current == "" {
		return false
	}
	if current == expected {
		return true
	}
	id := string(task)
	for _, tok := range strings.FieldsFunc(current, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if tok == id {
			return true
		}
	}
	return false
}
