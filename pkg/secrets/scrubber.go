package secrets

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/logging"
)

// Options configures a Scrubber.
type Options struct {
	// RepoRoot is searched for .gitleaks.toml.
	RepoRoot string
	// AllowlistPath is an additional gitleaks-format allowlist.
	AllowlistPath string
	Logger        *logging.Logger
}

// Finding is one detected secret. It never carries the secret itself.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
	Length int    `json:"length"`
}

// Scrubber replaces detected secrets with [REDACTED:<rule>] markers.
// It is safe for concurrent use.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *logging.Logger
}

// NewScrubber builds a detector from the gitleaks default rules plus the
// configured allowlists.
func NewScrubber(opts Options) (*Scrubber, error) {
	allowlist, err := LoadAllowlists(opts.RepoRoot, opts.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	if !allowlist.empty() {
		applyAllowlist(&detector.Config, allowlist)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scrubber{detector: detector, logger: logger.Named("secrets")}, nil
}

// applyAllowlist adds a global gitleaks allowlist. Patterns were validated
// by loadTOML.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "implflow allowlist",
		StopWords:   allowlist.StopWords,
	}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// Scrub implements workflow.Scrubber.
func (s *Scrubber) Scrub(text string) string {
	out, findings := s.ScrubWithFindings(text)
	if len(findings) > 0 {
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.RuleID)
		}
		s.logger.Info(context.Background(), "redacted secrets",
			zap.Int("count", len(findings)), zap.Strings("rules", rules))
	}
	return out
}

// ScrubWithFindings returns the scrubbed text and what was removed.
func (s *Scrubber) ScrubWithFindings(text string) (string, []Finding) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	s.mu.Lock()
	raw := s.detector.DetectString(text)
	s.mu.Unlock()

	if len(raw) == 0 {
		return text, nil
	}

	// Longest secrets first so a secret containing another is replaced whole.
	sort.SliceStable(raw, func(i, j int) bool { return len(raw[i].Secret) > len(raw[j].Secret) })

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Length: len(f.Secret)})
		text = strings.ReplaceAll(text, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return text, findings
}

// Noop returns text unchanged. It is used when scrubbing is disabled.
type Noop struct{}

// Scrub implements workflow.Scrubber.
func (Noop) Scrub(text string) string { return text }
