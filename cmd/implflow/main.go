// Implflow drives a work item from understanding to an updated ticket:
// plan, confirm, implement, validate, confirm, commit, report.
//
// Usage:
//
//	implflow run 101                 # interactive session for work item 101
//	implflow begin 101               # run to the first gate and exit
//	implflow respond <session> yes   # answer the pending gate
//	implflow serve                   # HTTP API
//	implflow mcp                     # MCP tools on stdio
//	implflow worker                  # Temporal worker for durable sessions
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	jsonOutput bool
	verbose    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "implflow",
	Short: "Implement work items behind explicit confirmation gates",
	Long: `implflow runs a work item through prerequisites, understanding, planning,
implementation, validation, commit and a work item update.

Nothing is implemented before the plan is approved and nothing is committed
before the changes are approved. Sessions are stored so any command can pick
up where the last one stopped.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./.implflow/config.yaml or ~/.config/implflow/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print sessions as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.close(context.WithoutCancel(ctx))
	}()
	return fn(ctx, a)
}
