// Package secrets scrubs credentials from text before it is posted to a
// tracker, published as an event or stored in a session.
//
// Detection uses the gitleaks default rule set. Allowlists follow the
// gitleaks TOML format so a repository's .gitleaks.toml applies as is.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
