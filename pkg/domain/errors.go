package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when a session is created under an id already in use.
var ErrSessionExists = errors.New("session already exists")

// ErrSessionTerminated is returned when a turn is requested on a session that already ended.
var ErrSessionTerminated = errors.New("session terminated")

// ErrTurnInProgress is returned under the reject overlap policy when a turn is already running.
var ErrTurnInProgress = errors.New("turn already in progress")

// ErrMaxErrorsExceeded is returned by Turn under the error fallback policy.
var ErrMaxErrorsExceeded = errors.New("max consecutive errors exceeded")

// ErrInvalidGraph is the sentinel matched by every GraphError.
var ErrInvalidGraph = errors.New("invalid graph")

// UnknownSessionError carries the missing session id. It matches ErrSessionNotFound.
type UnknownSessionError struct {
	SessionID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

func (e *UnknownSessionError) Unwrap() error { return ErrSessionNotFound }

// UnknownStepError is returned when a step id is not part of the graph.
type UnknownStepError struct {
	StepID string
	// From is the step that referenced StepID, if any.
	From string
}

func (e *UnknownStepError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("step %q references unknown step %q", e.From, e.StepID)
	}
	return fmt.Sprintf("unknown step %q", e.StepID)
}

// UnknownToolError is returned when a step lists a tool that is not registered.
type UnknownToolError struct {
	StepID string
	Tool   string
}

func (e *UnknownToolError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("step %q references unknown tool %q", e.StepID, e.Tool)
	}
	return fmt.Sprintf("unknown tool %q", e.Tool)
}

// FlowIntegrityError reports a malformed flow group.
type FlowIntegrityError struct {
	FlowID string
	Reason string
}

func (e *FlowIntegrityError) Error() string {
	return fmt.Sprintf("flow %q: %s", e.FlowID, e.Reason)
}

// GraphError aggregates every integrity problem found while building a graph.
type GraphError struct {
	Problems []error
}

func (e *GraphError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("invalid graph: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *GraphError) Unwrap() []error {
	return append([]error{ErrInvalidGraph}, e.Problems...)
}

// Violation is one reason a raw decision was rejected.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Reason
	}
	return v.Field + ": " + v.Reason
}

// SchemaValidationError lists every violation found in a raw LLM output.
type SchemaValidationError struct {
	StepID     string
	Violations []Violation
}

func (e *SchemaValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("invalid decision for step %q: %s", e.StepID, strings.Join(msgs, "; "))
}

// ToolErrorKind classifies a ToolError.
type ToolErrorKind string

const (
	ToolInvalidArgs     ToolErrorKind = "invalid_args"
	ToolExecutionFailed ToolErrorKind = "execution_failed"
)

// ToolError is returned by the tool invoker.
type ToolError struct {
	Tool  string
	Kind  ToolErrorKind
	Cause error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q %s: %v", e.Tool, e.Kind, e.Cause)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// LLMError wraps a failure of the LLM capability, timeouts included.
type LLMError struct {
	Cause error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm: %v", e.Cause)
}

func (e *LLMError) Unwrap() error { return e.Cause }
