package domain

import (
	"slices"
	"time"
)

// Role tags who produced a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusAwaitingInput SessionStatus = "awaiting_input"
	StatusTerminated    SessionStatus = "terminated"
	// StatusDegraded marks a session ended by the error budget fallback.
	StatusDegraded SessionStatus = "degraded"
	// StatusFailed marks a session ended by a tool failure on a stop_on_error step.
	StatusFailed SessionStatus = "failed"
)

// Terminal reports whether no further turns are accepted in this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusTerminated || s == StatusDegraded || s == StatusFailed
}

// HistoryEntry is one role-tagged message in a session's history.
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	StepID  string `json:"step_id,omitempty"`
	// FlowID is the innermost active flow when the entry was recorded.
	FlowID string      `json:"flow_id,omitempty"`
	Action Action      `json:"action,omitempty"`
	Tool   *ToolResult `json:"tool,omitempty"`
	// Data holds the structured answer for answer-model steps.
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is the mutable per-conversation state threaded through turns.
type Session struct {
	ID                string         `json:"id"`
	CurrentStepID     string         `json:"current_step_id"`
	Status            SessionStatus  `json:"status"`
	FlowStack         []string       `json:"flow_stack"`
	History           []HistoryEntry `json:"history"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	StepIterations    int            `json:"step_iterations"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewSession creates a session positioned at startStepID.
func NewSession(id, startStepID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            id,
		CurrentStepID: startStepID,
		Status:        StatusAwaitingInput,
		FlowStack:     []string{},
		History:       []HistoryEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Terminated reports whether the session accepts no further turns.
func (s *Session) Terminated() bool {
	return s.Status.Terminal()
}

// ActiveFlow returns the innermost flow id, or "" when no flow is active.
func (s *Session) ActiveFlow() string {
	if len(s.FlowStack) == 0 {
		return ""
	}
	return s.FlowStack[len(s.FlowStack)-1]
}

// Append records an entry tagged with the current step and flow.
func (s *Session) Append(e HistoryEntry) {
	if e.StepID == "" {
		e.StepID = s.CurrentStepID
	}
	if e.FlowID == "" {
		e.FlowID = s.ActiveFlow()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.History = append(s.History, e)
}

// Clone returns a deep copy of the session so a turn can work on it without
// touching the committed value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.FlowStack = slices.Clone(s.FlowStack)
	if c.FlowStack == nil {
		c.FlowStack = []string{}
	}
	c.History = make([]HistoryEntry, len(s.History))
	for i, e := range s.History {
		if e.Tool != nil {
			t := *e.Tool
			t.Args = cloneMap(t.Args)
			t.Result = cloneValue(t.Result)
			e.Tool = &t
		}
		e.Data = cloneMap(e.Data)
		c.History[i] = e
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the map and slice shapes produced by JSON decoding.
// Other values are returned as is.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(x)
	default:
		return v
	}
}
