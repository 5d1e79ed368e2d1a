package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAIKey = "sk-proj-abcdefghijklmnopqrstuvwxyz1234567890123456"

func newScrubber(t *testing.T, opts Options) *Scrubber {
	t.Helper()
	s, err := NewScrubber(opts)
	require.NoError(t, err)
	return s
}

func TestScrub_NoSecrets(t *testing.T) {
	s := newScrubber(t, Options{})
	content := "ok  \tauth\t0.12s\nPASS"

	out, findings := s.ScrubWithFindings(content)
	assert.Equal(t, content, out)
	assert.Empty(t, findings)
	assert.Equal(t, "", s.Scrub(""))
}

func TestScrub_RedactsSecret(t *testing.T) {
	s := newScrubber(t, Options{})
	content := "--- FAIL: TestLogin\n    client.go:12: key = \"" + openAIKey + "\"\nFAIL"

	out, findings := s.ScrubWithFindings(content)
	if len(findings) == 0 {
		t.Skip("gitleaks did not detect this pattern")
	}
	assert.NotContains(t, out, openAIKey)
	assert.Contains(t, out, "[REDACTED:")
	assert.True(t, strings.HasPrefix(out, "--- FAIL: TestLogin\n"), "surrounding output is kept")
	assert.NotEmpty(t, findings[0].RuleID)
}

func TestScrub_ProjectAllowlist(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectAllowlistFile), []byte(`[allowlist]
regexes = ['''sk-proj-abcdefghij.*''']
`), 0o600))

	content := `const key = "` + openAIKey + `"`
	if _, findings := newScrubber(t, Options{}).ScrubWithFindings(content); len(findings) == 0 {
		t.Skip("gitleaks did not detect this pattern")
	}

	out, findings := newScrubber(t, Options{RepoRoot: dir}).ScrubWithFindings(content)
	assert.Empty(t, findings)
	assert.Equal(t, content, out)
}

func TestScrub_Concurrent(t *testing.T) {
	s := newScrubber(t, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Scrub("export KEY=\"" + openAIKey + "\"")
		}()
	}
	wg.Wait()
}

func TestNoop(t *testing.T) {
	assert.Equal(t, openAIKey, Noop{}.Scrub(openAIKey))
}

func TestLoadAllowlists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectAllowlistFile), []byte(`[allowlist]
regexes = ['''DEMO_API_KEY''']
stopwords = ['''example''']
`), 0o600))
	user := filepath.Join(t.TempDir(), "allowlist.toml")
	require.NoError(t, os.WriteFile(user, []byte(`[allowlist]
regexes = ['''EXAMPLE_SECRET_.*''']
`), 0o600))

	a, err := LoadAllowlists(dir, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"DEMO_API_KEY", "EXAMPLE_SECRET_.*"}, a.Regexes)
	assert.Equal(t, []string{"example"}, a.StopWords)
}

func TestLoadAllowlists_Missing(t *testing.T) {
	a, err := LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.True(t, a.empty())
}

func TestLoadAllowlists_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")

	require.NoError(t, os.WriteFile(path, []byte("[allowlist\nregexes = "), 0o600))
	_, err := LoadAllowlists("", path)
	assert.ErrorIs(t, err, ErrInvalidTOML)

	require.NoError(t, os.WriteFile(path, []byte("[allowlist]\nregexes = ['''[unclosed''']\n"), 0o600))
	_, err = LoadAllowlists("", path)
	assert.ErrorIs(t, err, ErrInvalidRegex)
}
