package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// handleEvents streams session transitions as Server-Sent Events.
//
//	GET /api/v1/sessions/{id}/events
//
//	event: AwaitingConfirmation
//	data: {"session_id":"...","from":"Blocked","to":"AwaitingConfirmation",...}
//
// The stream ends when the session is done or the client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	sess, err := s.svc.Get(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	if sess.Done() {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: workflow.ErrSessionDone.Error(), Code: "invalid_state"})
	}

	events := make(chan workflow.Event, 16)
	sub, err := s.events.SubscribeSession(id, func(e workflow.Event) {
		select {
		case events <- e:
		default:
			s.logger.Warn("dropping session event for slow client", zap.String("session.id", id))
		}
	})
	if err != nil {
		return s.fail(c, fmt.Errorf("subscribe to session events: %w", err))
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case e := <-events:
			e.Message = s.scrubber.Scrub(e.Message)
			data, err := json.Marshal(e)
			if err != nil {
				return nil
			}
			fmt.Fprintf(w, "event: %s\n", e.To)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()

			if e.To == workflow.StatusUpdated {
				return nil
			}
			if current, err := s.svc.Get(ctx, id); err == nil && current.Done() {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()

		case <-ctx.Done():
			return nil
		}
	}
}
