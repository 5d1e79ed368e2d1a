// Package config provides configuration loading for implflow.
//
// Configuration is read from a YAML file and overridden by IMPLFLOW_*
// environment variables. Sections that belong to other packages (logging,
// telemetry) are decoded on demand with Config.Section so this package stays
// a leaf.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
)

// Tracker kinds.
const (
	TrackerAzureDevOps = "azuredevops"
	TrackerGitHub      = "github"
	TrackerFile        = "file"
)

// Agent modes.
const (
	// AgentModeExternal suspends in Implementing until the session is resumed.
	AgentModeExternal = "external"
	// AgentModeCommand runs a configured agent command.
	AgentModeCommand = "command"
)

// Config holds the complete implflow configuration.
type Config struct {
	Workflow WorkflowConfig `koanf:"workflow"`
	Tracker  TrackerConfig  `koanf:"tracker"`
	VCS      VCSConfig      `koanf:"vcs"`
	Runner   RunnerConfig   `koanf:"runner"`
	Agent    AgentConfig    `koanf:"agent"`
	Store    StoreConfig    `koanf:"store"`
	Server   ServerConfig   `koanf:"server"`
	Temporal TemporalConfig `koanf:"temporal"`
	Events   EventsConfig   `koanf:"events"`
	Secrets  SecretsConfig  `koanf:"secrets"`

	k *koanf.Koanf
}

// WorkflowConfig controls the phase sequence.
type WorkflowConfig struct {
	RepoRoot           string   `koanf:"repo_root"`
	Prerequisites      []string `koanf:"prerequisites"`
	BranchTemplate     string   `koanf:"branch_template"`
	ValidationCommands []string `koanf:"validation_commands"`
}

// TrackerConfig selects and configures the work-item source.
type TrackerConfig struct {
	Kind              string            `koanf:"kind"`
	RequestsPerSecond float64           `koanf:"requests_per_second"`
	AzureDevOps       AzureDevOpsConfig `koanf:"azuredevops"`
	GitHub            GitHubConfig      `koanf:"github"`
	File              FileTrackerConfig `koanf:"file"`
}

// AzureDevOpsConfig holds Azure Boards connection settings.
type AzureDevOpsConfig struct {
	OrganizationURL string `koanf:"organization_url"`
	Project         string `koanf:"project"`
	Token           Secret `koanf:"token"`
	AcceptanceField string `koanf:"acceptance_field"`
}

// GitHubConfig holds GitHub Issues settings.
type GitHubConfig struct {
	Owner          string   `koanf:"owner"`
	Repo           string   `koanf:"repo"`
	Token          Secret   `koanf:"token"`
	MaxRetries     int      `koanf:"max_retries"`
	InitialBackoff Duration `koanf:"initial_backoff"`
}

// FileTrackerConfig points at a directory of YAML work items.
type FileTrackerConfig struct {
	Dir string `koanf:"dir"`
}

// VCSConfig holds version control settings.
type VCSConfig struct {
	Remote      string `koanf:"remote"`
	GitBinary   string `koanf:"git_binary"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// RunnerConfig controls validation command execution.
type RunnerConfig struct {
	Shell     string   `koanf:"shell"`
	Timeout   Duration `koanf:"timeout"`
	TailLines int      `koanf:"tail_lines"`
}

// AgentConfig controls how the Implement phase produces edits.
type AgentConfig struct {
	Mode    string   `koanf:"mode"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Timeout Duration `koanf:"timeout"`
}

// StoreConfig locates the session database.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TemporalConfig holds durable workflow settings.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// EventsConfig holds NATS publisher settings.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SecretsConfig controls scrubbing of text leaving the process.
type SecretsConfig struct {
	Scrub         bool   `koanf:"scrub"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Workflow: WorkflowConfig{
			RepoRoot:       ".",
			BranchTemplate: "feature/{id}",
		},
		Tracker: TrackerConfig{
			Kind:              TrackerFile,
			RequestsPerSecond: 5,
			AzureDevOps: AzureDevOpsConfig{
				AcceptanceField: "Microsoft.VSTS.Common.AcceptanceCriteria",
			},
			GitHub: GitHubConfig{
				MaxRetries:     3,
				InitialBackoff: Duration(time.Second),
			},
			File: FileTrackerConfig{Dir: ".implflow/workitems"},
		},
		VCS: VCSConfig{
			Remote:    "origin",
			GitBinary: "git",
		},
		Runner: RunnerConfig{
			Shell:     "sh",
			Timeout:   Duration(10 * time.Minute),
			TailLines: 50,
		},
		Agent: AgentConfig{
			Mode:    AgentModeExternal,
			Timeout: Duration(30 * time.Minute),
		},
		Store: StoreConfig{Path: ".implflow/sessions.db"},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: 10 * time.Second,
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "implflow",
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "implflow.sessions",
		},
		Secrets: SecretsConfig{Scrub: true},
	}
}

// Section decodes the raw configuration subtree at path into out. Fields of
// out that are absent from the loaded configuration keep their values, so
// callers pass a struct already holding defaults.
func (c *Config) Section(path string, out interface{}) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("failed to decode %s section: %w", path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workflow.BranchTemplate) == "" {
		return errors.New("workflow.branch_template is required")
	}
	if !strings.Contains(c.Workflow.BranchTemplate, "{id}") {
		return fmt.Errorf("workflow.branch_template %q must contain {id}", c.Workflow.BranchTemplate)
	}

	switch c.Tracker.Kind {
	case TrackerAzureDevOps:
		if c.Tracker.AzureDevOps.OrganizationURL == "" || c.Tracker.AzureDevOps.Project == "" {
			return errors.New("tracker.azuredevops requires organization_url and project")
		}
		if !c.Tracker.AzureDevOps.Token.IsSet() {
			return errors.New("tracker.azuredevops.token is required")
		}
	case TrackerGitHub:
		if c.Tracker.GitHub.Owner == "" || c.Tracker.GitHub.Repo == "" {
			return errors.New("tracker.github requires owner and repo")
		}
		if c.Tracker.GitHub.MaxRetries < 0 {
			return fmt.Errorf("tracker.github.max_retries must be >= 0, got %d", c.Tracker.GitHub.MaxRetries)
		}
	case TrackerFile:
		if c.Tracker.File.Dir == "" {
			return errors.New("tracker.file.dir is required")
		}
	default:
		return fmt.Errorf("unknown tracker kind %q (expected azuredevops, github or file)", c.Tracker.Kind)
	}
	if c.Tracker.RequestsPerSecond <= 0 {
		return errors.New("tracker.requests_per_second must be positive")
	}

	if c.Runner.Timeout.Duration() <= 0 {
		return errors.New("runner.timeout must be positive")
	}
	if c.Runner.TailLines < 0 {
		return fmt.Errorf("runner.tail_lines must be >= 0, got %d", c.Runner.TailLines)
	}

	switch c.Agent.Mode {
	case AgentModeExternal:
	case AgentModeCommand:
		if c.Agent.Command == "" {
			return errors.New("agent.command is required in command mode")
		}
	default:
		return fmt.Errorf("unknown agent mode %q (expected external or command)", c.Agent.Mode)
	}

	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Temporal.Enabled && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		return errors.New("temporal requires host_port and task_queue when enabled")
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events.url is required when events are enabled")
	}

	return nil
}
