package http

import (
	"time"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// BeginRequest is the request body for POST /api/v1/sessions.
type BeginRequest struct {
	Task string `json:"task"`
}

// AnswerRequest is the request body for POST /api/v1/sessions/:id/gates/:gate.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// ReviseRequest is the request body for POST /api/v1/sessions/:id/revise.
type ReviseRequest struct {
	Notes string `json:"notes"`
}

// SessionResponse is a session as returned by the API.
type SessionResponse struct {
	*workflow.Session
	Done        bool           `json:"done"`
	PendingGate *workflow.Gate `json:"pending_gate,omitempty"`
}

// SessionList is the response body for GET /api/v1/sessions.
type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
	Count    int              `json:"count"`
}

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	ID        string           `json:"id"`
	Task      workflow.TaskRef `json:"task"`
	Status    workflow.Status  `json:"status"`
	Phase     workflow.Phase   `json:"phase"`
	Await     workflow.Await   `json:"await,omitempty"`
	Branch    string           `json:"branch,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}
