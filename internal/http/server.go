// Package http serves the session API over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/logging"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// EventStream subscribes to the transitions of one session.
type EventStream interface {
	SubscribeSession(sessionID string, fn func(workflow.Event)) (*nats.Subscription, error)
}

// Server provides the HTTP API.
type Server struct {
	echo     *echo.Echo
	svc      workflow.Service
	scrubber workflow.Scrubber
	events   EventStream
	logger   *zap.Logger
	config   config.ServerConfig

	heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithEvents enables GET /api/v1/sessions/:id/events.
func WithEvents(stream EventStream) Option {
	return func(s *Server) { s.events = stream }
}

// WithScrubber scrubs session messages before they are returned.
func WithScrubber(scrubber workflow.Scrubber) Option {
	return func(s *Server) { s.scrubber = scrubber }
}

// NewServer creates a new HTTP server.
func NewServer(svc workflow.Service, logger *zap.Logger, cfg config.ServerConfig, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	reqLog := logging.FromZap(logger)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))
			err := next(c)

			reqLog.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		svc:       svc,
		scrubber:  passthrough{},
		logger:    logger,
		config:    cfg,
		heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleBegin)
	v1.GET("/sessions", s.handleList)
	v1.GET("/sessions/:id", s.handleGet)
	v1.POST("/sessions/:id/gates/:gate", s.handleAnswer)
	v1.POST("/sessions/:id/resume", s.handleResume)
	v1.POST("/sessions/:id/revise", s.handleRevise)
	v1.POST("/sessions/:id/abandon", s.handleAbandon)
	if s.events != nil {
		v1.GET("/sessions/:id/events", s.handleEvents)
	}
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleBegin(c echo.Context) error {
	var req BeginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	sess, err := s.svc.Begin(c.Request().Context(), workflow.TaskRef(strings.TrimSpace(req.Task)))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, s.response(sess))
}

func (s *Server) handleList(c echo.Context) error {
	filter := workflow.ListFilter{
		Task:   workflow.TaskRef(c.QueryParam("task")),
		Status: workflow.Status(c.QueryParam("status")),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		}
		filter.Limit = limit
	}

	sessions, err := s.svc.List(c.Request().Context(), filter)
	if err != nil {
		return s.fail(c, err)
	}
	out := SessionList{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, SessionSummary{
			ID:        sess.ID,
			Task:      sess.Task,
			Status:    sess.Status,
			Phase:     sess.Phase,
			Await:     sess.Await,
			Branch:    sess.Branch,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	out.Count = len(out.Sessions)
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGet(c echo.Context) error {
	sess, err := s.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.response(sess))
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	answer, err := workflow.ParseAnswer(req.Answer)
	if err != nil {
		return s.fail(c, err)
	}
	sess, err := s.svc.Respond(c.Request().Context(), c.Param("id"), workflow.GateID(c.Param("gate")), answer)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.response(sess))
}

func (s *Server) handleResume(c echo.Context) error {
	sess, err := s.svc.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.response(sess))
}

func (s *Server) handleRevise(c echo.Context) error {
	var req ReviseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	sess, err := s.svc.Revise(c.Request().Context(), c.Param("id"), req.Notes)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.response(sess))
}

func (s *Server) handleAbandon(c echo.Context) error {
	sess, err := s.svc.Abandon(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.response(sess))
}

func (s *Server) response(sess *workflow.Session) SessionResponse {
	cp := *sess
	cp.Message = s.scrubber.Scrub(sess.Message)
	return SessionResponse{Session: &cp, Done: sess.Done(), PendingGate: sess.PendingGate()}
}

// fail maps workflow errors to HTTP statuses.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, workflow.ErrSessionNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, workflow.ErrActiveSession):
		status, code = http.StatusConflict, "active_session"
	case errors.Is(err, workflow.ErrGateNotPending),
		errors.Is(err, workflow.ErrNotResumable),
		errors.Is(err, workflow.ErrNotRevisable),
		errors.Is(err, workflow.ErrSessionDone):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, workflow.ErrEmptyTask),
		errors.Is(err, workflow.ErrInvalidAnswer),
		errors.Is(err, workflow.ErrUnknownGate):
		status, code = http.StatusBadRequest, "invalid_request"
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: s.scrubber.Scrub(err.Error()), Code: code})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

type passthrough struct{}

func (passthrough) Scrub(text string) string { return text }
