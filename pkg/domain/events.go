package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStepEnter       EventType = "step_enter"
	EventStepLeave       EventType = "step_leave"
	EventDecision        EventType = "decision"
	EventToolCall        EventType = "tool_call"
	EventToolReturn      EventType = "tool_return"
	EventValidationError EventType = "validation_error"
	EventSessionEnd      EventType = "session_end"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// StepEvent represents entry into or exit from a step.
type StepEvent struct {
	EventBase
	StepID string `json:"step_id"`
	FlowID string `json:"flow_id,omitempty"`
}

// DecisionEvent is emitted for every validated decision.
type DecisionEvent struct {
	EventBase
	StepID string `json:"step_id"`
	Action Action `json:"action"`
}

// ToolEvent represents a tool execution.
type ToolEvent struct {
	EventBase
	StepID   string        `json:"step_id"`
	ToolName string        `json:"tool_name"`
	Input    any           `json:"input,omitempty"`
	Output   any           `json:"output,omitempty"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ErrorEvent is emitted when an LLM output is rejected or the LLM call fails.
type ErrorEvent struct {
	EventBase
	StepID            string `json:"step_id"`
	Err               error  `json:"-"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
}

// EndEvent is emitted when a session reaches a terminal status.
type EndEvent struct {
	EventBase
	StepID string        `json:"step_id"`
	Status SessionStatus `json:"status"`
}

// LifecycleHooks defines callbacks for engine observability.
// Nil callbacks are skipped.
type LifecycleHooks struct {
	OnStepEnter       func(context.Context, *StepEvent)
	OnStepLeave       func(context.Context, *StepEvent)
	OnDecision        func(context.Context, *DecisionEvent)
	OnToolCall        func(context.Context, *ToolEvent)
	OnToolReturn      func(context.Context, *ToolEvent)
	OnValidationError func(context.Context, *ErrorEvent)
	OnSessionEnd      func(context.Context, *EndEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStepEnter:       chain(h.OnStepEnter, other.OnStepEnter),
		OnStepLeave:       chain(h.OnStepLeave, other.OnStepLeave),
		OnDecision:        chain(h.OnDecision, other.OnDecision),
		OnToolCall:        chain(h.OnToolCall, other.OnToolCall),
		OnToolReturn:      chain(h.OnToolReturn, other.OnToolReturn),
		OnValidationError: chain(h.OnValidationError, other.OnValidationError),
		OnSessionEnd:      chain(h.OnSessionEnd, other.OnSessionEnd),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
