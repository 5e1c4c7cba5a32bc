// Package decision builds the structured-output contract an LLM must follow for
// one step, and validates raw LLM output against it.
//
// Build narrows the action space to what the step supports: MOVE only when the
// step has routes, TOOL_CALL only when it has tools. Tool arguments are keyed by
// tool name, so kwargs meant for one tool never validate against another.
// The resulting Schema is plain data; it can be serialized, sent to a remote
// decision endpoint, or rendered as OpenAPI for constrained decoding.
package decision

import (
	"slices"

	"github.com/aretw0/waypoint/pkg/domain"
)

// ToolContract is the argument contract of one tool.
type ToolContract struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  []domain.Parameter `json:"parameters"`
}

// Schema describes the exact shape of a valid decision for one step.
type Schema struct {
	StepID      string             `json:"step_id"`
	Actions     []domain.Action    `json:"actions"`
	Routes      []domain.Route     `json:"routes,omitempty"`
	Tools       []ToolContract     `json:"tools,omitempty"`
	AnswerModel []domain.Parameter `json:"answer_model,omitempty"`
}

// Build returns the decision contract of step given its resolved tools.
func Build(step domain.Step, tools []domain.Tool) *Schema {
	s := &Schema{
		StepID:      step.ID,
		Routes:      slices.Clone(step.Routes),
		AnswerModel: slices.Clone(step.AnswerModel),
	}
	for _, t := range tools {
		s.Tools = append(s.Tools, ToolContract{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  slices.Clone(t.Parameters),
		})
	}

	for _, a := range domain.Actions {
		switch a {
		case domain.ActionMove:
			if len(s.Routes) == 0 {
				continue
			}
		case domain.ActionToolCall:
			if len(s.Tools) == 0 {
				continue
			}
		}
		s.Actions = append(s.Actions, a)
	}
	return s
}

// Allows reports whether action is permitted by the schema.
func (s *Schema) Allows(action domain.Action) bool {
	return slices.Contains(s.Actions, action)
}

// Tool returns the contract of the named tool.
func (s *Schema) Tool(name string) (ToolContract, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolContract{}, false
}

// RouteTargets returns the step ids MOVE may target, in route order.
func (s *Schema) RouteTargets() []string {
	out := make([]string, len(s.Routes))
	for i, r := range s.Routes {
		out[i] = r.Target
	}
	return out
}
