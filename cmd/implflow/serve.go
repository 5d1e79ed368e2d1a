package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/durable"
	httpserver "github.com/fyrsmithlabs/implflow/internal/http"
	"github.com/fyrsmithlabs/implflow/internal/mcp"
)

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, workerCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API over HTTP",
	Long: `Serve the session API over HTTP.

Routes:
  GET  /health
  GET  /metrics
  POST /api/v1/sessions
  GET  /api/v1/sessions
  GET  /api/v1/sessions/:id
  POST /api/v1/sessions/:id/gates/:gate
  POST /api/v1/sessions/:id/resume
  POST /api/v1/sessions/:id/revise
  POST /api/v1/sessions/:id/abandon
  GET  /api/v1/sessions/:id/events   (when events are enabled)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			opts := []httpserver.Option{httpserver.WithScrubber(a.scrubber)}
			if a.events != nil {
				opts = append(opts, httpserver.WithEvents(a.events))
			}
			srv, err := httpserver.NewServer(svc, a.logger.Underlying(), a.cfg.Server, opts...)
			if err != nil {
				return err
			}
			a.logger.Info(ctx, "server configured",
				zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", a.cfg.Server.Host, a.cfg.Server.Port)),
				zap.Bool("durable", a.cfg.Temporal.Enabled),
				zap.Bool("events", a.events != nil))
			return srv.Start(ctx)
		})
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the workflow tools over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "implflow",
				Version: version,
				Logger:  a.logger.Underlying(),
			}, svc, a.scrubber)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "implflow MCP server started on stdio")
			return srv.Run(ctx)
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that executes durable sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if !a.cfg.Temporal.Enabled {
				return fmt.Errorf("temporal.enabled is false; durable sessions are disabled")
			}
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			tc, err := durable.Dial(a.cfg.Temporal)
			if err != nil {
				return err
			}
			defer tc.Close()

			w := durable.NewWorker(tc, a.cfg.Temporal.TaskQueue, &durable.Activities{
				Engine:  engine,
				Journal: a.journal(),
			})
			if err := w.Start(); err != nil {
				return fmt.Errorf("worker start: %w", err)
			}
			a.logger.Info(ctx, "worker started",
				zap.String("host_port", a.cfg.Temporal.HostPort),
				zap.String("task_queue", a.cfg.Temporal.TaskQueue))

			<-ctx.Done()
			w.Stop()
			a.logger.Info(context.WithoutCancel(ctx), "worker stopped gracefully")
			return nil
		})
	},
}
