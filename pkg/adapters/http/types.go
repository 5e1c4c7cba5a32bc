package http

import (
	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/pkg/domain"
)

// CreateSessionRequest is the optional body of POST /sessions.
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	// Initiate overrides the definition's initiate setting when set.
	Initiate *bool `json:"initiate,omitempty"`
}

// TurnRequest is the body of POST /sessions/{id}/turns.
type TurnRequest struct {
	Input string `json:"input"`
}

// TurnResponse reports the outcome of a turn.
type TurnResponse struct {
	SessionID     string               `json:"session_id"`
	Decision      *domain.Envelope     `json:"decision,omitempty"`
	ToolResults   []domain.ToolResult  `json:"tool_results,omitempty"`
	Truncated     bool                 `json:"truncated,omitempty"`
	Suspended     bool                 `json:"suspended,omitempty"`
	Status        domain.SessionStatus `json:"status,omitempty"`
	CurrentStepID string               `json:"current_step_id,omitempty"`
	Diff          *domain.SessionDiff  `json:"diff,omitempty"`
}

// NewTurnResponse flattens a turn result for the wire.
func NewTurnResponse(res *waypoint.TurnResult) TurnResponse {
	out := TurnResponse{
		SessionID:   res.SessionID,
		ToolResults: res.ToolResults,
		Truncated:   res.Truncated,
		Suspended:   res.Suspended,
		Diff:        res.Diff,
	}
	if res.Decision != nil {
		env := domain.ToEnvelope(res.Decision)
		out.Decision = &env
	}
	if res.Session != nil {
		out.Status = res.Session.Status
		out.CurrentStepID = res.Session.CurrentStepID
	}
	return out
}

// HistoryResponse is the body of GET /sessions/{id}/history.
type HistoryResponse struct {
	SessionID string                `json:"session_id"`
	History   []domain.HistoryEntry `json:"history"`
}

// SessionsResponse is the body of GET /sessions.
type SessionsResponse struct {
	Sessions []string `json:"sessions"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
