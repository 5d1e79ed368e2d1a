package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the implflow config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "implflow")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
workflow:
  branch_template: "users/dev/{id}"
  prerequisites:
    - go.mod
    - Makefile
  validation_commands:
    - go build ./...
    - go test ./...
tracker:
  kind: github
  github:
    owner: acme
    repo: widgets
    token: ghp_example
runner:
  timeout: 90s
server:
  http_port: 8088
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "users/dev/{id}", cfg.Workflow.BranchTemplate)
	assert.Equal(t, []string{"go.mod", "Makefile"}, cfg.Workflow.Prerequisites)
	assert.Equal(t, []string{"go build ./...", "go test ./..."}, cfg.Workflow.ValidationCommands)
	assert.Equal(t, TrackerGitHub, cfg.Tracker.Kind)
	assert.Equal(t, "acme", cfg.Tracker.GitHub.Owner)
	assert.Equal(t, "ghp_example", cfg.Tracker.GitHub.Token.Value())
	assert.Equal(t, 90*time.Second, cfg.Runner.Timeout.Duration())
	assert.Equal(t, 8088, cfg.Server.Port)

	// Untouched sections keep defaults.
	assert.Equal(t, "origin", cfg.VCS.Remote)
	assert.Equal(t, AgentModeExternal, cfg.Agent.Mode)
	assert.True(t, cfg.Secrets.Scrub)
}

func TestLoadWithFile_NoFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, TrackerFile, cfg.Tracker.Kind)
	assert.Equal(t, "feature/{id}", cfg.Workflow.BranchTemplate)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
tracker:
  kind: azuredevops
  azuredevops:
    organization_url: https://dev.azure.com/acme
    project: Widgets
`, 0600)

	t.Setenv("IMPLFLOW_TRACKER_AZUREDEVOPS_TOKEN", "pat-from-env")
	t.Setenv("IMPLFLOW_SERVER_HTTP_PORT", "9300")
	t.Setenv("IMPLFLOW_WORKFLOW_BRANCH_TEMPLATE", "wi/{id}")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pat-from-env", cfg.Tracker.AzureDevOps.Token.Value())
	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, "wi/{id}", cfg.Workflow.BranchTemplate)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8088\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_ValidationFailure(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "tracker:\n  kind: jira\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tracker kind "jira"`)
}

func TestConfig_Section(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
logging:
  format: console
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	type section struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	}
	out := section{Format: "json", Level: "info"}
	require.NoError(t, cfg.Section("logging", &out))
	assert.Equal(t, "console", out.Format)
	assert.Equal(t, "info", out.Level, "absent keys keep their defaults")

	missing := section{Format: "json"}
	require.NoError(t, cfg.Section("telemetry", &missing))
	assert.Equal(t, "json", missing.Format)
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"IMPLFLOW_SERVER_HTTP_PORT", "server.http_port"},
		{"IMPLFLOW_TRACKER_KIND", "tracker.kind"},
		{"IMPLFLOW_TRACKER_GITHUB_TOKEN", "tracker.github.token"},
		{"IMPLFLOW_TRACKER_AZUREDEVOPS_ORGANIZATION_URL", "tracker.azuredevops.organization_url"},
		{"IMPLFLOW_TRACKER_FILE_DIR", "tracker.file.dir"},
		{"IMPLFLOW_EVENTS", "events"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestValidateConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	valid := []string{
		filepath.Join(home, ".config", "implflow", "config.yaml"),
		filepath.Join(home, ".config", "implflow", "nested", "config.yaml"),
		filepath.Join(cwd, ".implflow", "config.yaml"),
		"/etc/implflow/config.yaml",
	}
	for _, path := range valid {
		assert.NoError(t, validateConfigPath(path), path)
	}

	invalid := []string{
		"/etc/passwd",
		"/tmp/config.yaml",
		"/etc/implflow../etc/passwd",
		filepath.Join(home, ".config", "implflow", "..", "..", "config.yaml"),
	}
	for _, path := range invalid {
		assert.Error(t, validateConfigPath(path), path)
	}
}
