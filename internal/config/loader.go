package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "IMPLFLOW_"

	projectConfigDir = ".implflow"
	configFileName   = "config.yaml"
)

// nestedSections lists config subtrees whose names contain an underscore
// boundary in their environment form.
var nestedSections = []string{
	"tracker_azuredevops",
	"tracker_github",
	"tracker_file",
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. IMPLFLOW_* environment variables
//  2. YAML config file
//  3. Defaults from Default()
//
// When configPath is empty the first existing file of ./.implflow/config.yaml
// and ~/.config/implflow/config.yaml is used; with neither present only env
// and defaults apply.
//
// The file must live under ./.implflow/, ~/.config/implflow/ or
// /etc/implflow/, must be 0600 or 0400 (it carries tracker tokens) and must
// be under 1MB.
//
// Environment variables map by stripping the prefix and splitting the first
// underscore (or a known nested section) into a dot:
//
//	IMPLFLOW_SERVER_HTTP_PORT        -> server.http_port
//	IMPLFLOW_TRACKER_GITHUB_TOKEN    -> tracker.github.token
//	IMPLFLOW_WORKFLOW_BRANCH_TEMPLATE -> workflow.branch_template
//
// List values (prerequisites, validation commands) are only read from YAML.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		found, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = found
	}

	if configPath != "" {
		if err := validateConfigPath(configPath); err != nil {
			return nil, fmt.Errorf("config path validation failed: %w", err)
		}
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// EnsureConfigDir creates the project config directory with 0700 permissions.
func EnsureConfigDir(repoRoot string) (string, error) {
	dir := filepath.Join(repoRoot, projectConfigDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return dir, nil
}

func loadFile(k *koanf.Koanf, configPath string) error {
	f, err := os.Open(configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}
	return nil
}

func defaultConfigPath() (string, error) {
	candidates := []string{filepath.Join(projectConfigDir, configFileName)}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	candidates = append(candidates, filepath.Join(home, ".config", "implflow", configFileName))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

// envKey maps IMPLFLOW_SECTION_FIELD to section.field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	sections := append([]string(nil), nestedSections...)
	sort.Slice(sections, func(i, j int) bool { return len(sections[i]) > len(sections[j]) })
	for _, section := range sections {
		if strings.HasPrefix(lower, section+"_") {
			return strings.ReplaceAll(section, "_", ".") + "." + strings.TrimPrefix(lower, section+"_")
		}
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// validateConfigPath checks that path resolves inside an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Missing files are validated by their lexical path.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(cwd, projectConfigDir),
		filepath.Join(home, ".config", "implflow"),
		"/etc/implflow",
	}
	for _, dir := range allowedDirs {
		if within(resolvedPath, dir) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ./%s/, ~/.config/implflow/ or /etc/implflow/", projectConfigDir)
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
