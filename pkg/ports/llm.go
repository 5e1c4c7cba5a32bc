package ports

import (
	"context"

	"github.com/aretw0/waypoint/pkg/decision"
	"github.com/aretw0/waypoint/pkg/domain"
)

// LLM is the decision capability. Implementations own prompt formatting and the
// provider call; they must return a JSON object conforming to req.Schema.
type LLM interface {
	Generate(ctx context.Context, req *GenerateRequest) ([]byte, error)
}

// LLMFunc adapts a function to the LLM interface.
type LLMFunc func(ctx context.Context, req *GenerateRequest) ([]byte, error)

func (f LLMFunc) Generate(ctx context.Context, req *GenerateRequest) ([]byte, error) {
	return f(ctx, req)
}

// GenerateRequest is the context handed to the LLM for one decision.
type GenerateRequest struct {
	SessionID string `json:"session_id"`
	Persona   string `json:"persona,omitempty"`

	StepID          string         `json:"step_id"`
	StepDescription string         `json:"step_description"`
	Routes          []domain.Route `json:"routes,omitempty"`

	// History is already windowed by the engine's history policy.
	History   []domain.HistoryEntry `json:"history"`
	FlowStack []string              `json:"flow_stack,omitempty"`
	// Memory is the retrieval configuration of the innermost active flow.
	Memory *domain.MemoryConfig `json:"memory,omitempty"`

	AllowDelegation bool `json:"allow_delegation,omitempty"`
	MaxDelegation   int  `json:"max_delegation,omitempty"`

	// Attempt counts consecutive failed decisions before this one.
	Attempt int `json:"attempt,omitempty"`

	Schema *decision.Schema `json:"schema"`
}
