package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// Server is an MCP server over a workflow.Service.
type Server struct {
	mcp      *mcp.Server
	svc      workflow.Service
	scrubber workflow.Scrubber
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "implflow")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging. It must not write to stdout, which
	// carries the protocol.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "implflow",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a server and registers the workflow tools. scrubber
// may be nil.
func NewServer(cfg *Config, svc workflow.Service, scrubber workflow.Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if svc == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if scrubber == nil {
		scrubber = passthrough{}
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		svc:      svc,
		scrubber: scrubber,
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

type passthrough struct{}

func (passthrough) Scrub(text string) string { return text }
