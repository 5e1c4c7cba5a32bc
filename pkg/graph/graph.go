// Package graph holds the immutable step graph an agent walks.
//
// A Graph is built once from step definitions, flow groups and the tool set, and is
// validated exhaustively at construction: every problem is collected into a single
// *domain.GraphError instead of failing on the first one. After New returns, the
// graph is read-only and safe for concurrent use.
package graph

import (
	"fmt"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/schema"
)

// ToolSet resolves tool names to their definitions.
type ToolSet interface {
	Lookup(name string) (domain.Tool, bool)
}

// Graph is an immutable registry of steps, routes and flows.
type Graph struct {
	start string
	order []string
	steps map[string]domain.Step
	flows []domain.FlowGroup
	tools ToolSet
}

// Option configures graph construction.
type Option func(*Graph)

// WithTools sets the tool set used to resolve each step's available tools.
func WithTools(ts ToolSet) Option {
	return func(g *Graph) {
		g.tools = ts
	}
}

// WithFlows declares the flow groups of the graph.
func WithFlows(flows ...domain.FlowGroup) Option {
	return func(g *Graph) {
		g.flows = append(g.flows, flows...)
	}
}

// New builds and validates a graph.
func New(steps []domain.Step, startStepID string, opts ...Option) (*Graph, error) {
	g := &Graph{
		start: startStepID,
		steps: make(map[string]domain.Step, len(steps)),
	}
	for _, opt := range opts {
		opt(g)
	}

	var problems []error
	for _, s := range steps {
		if s.ID == "" {
			problems = append(problems, fmt.Errorf("step with empty id"))
			continue
		}
		if _, dup := g.steps[s.ID]; dup {
			problems = append(problems, fmt.Errorf("duplicate step id %q", s.ID))
			continue
		}
		g.steps[s.ID] = s
		g.order = append(g.order, s.ID)
	}

	if startStepID == "" {
		problems = append(problems, fmt.Errorf("start step is not set"))
	} else if _, ok := g.steps[startStepID]; !ok {
		problems = append(problems, &domain.UnknownStepError{StepID: startStepID})
	}

	for _, id := range g.order {
		problems = append(problems, g.checkStep(g.steps[id])...)
	}
	problems = append(problems, g.checkFlows()...)

	if len(problems) > 0 {
		return nil, &domain.GraphError{Problems: problems}
	}
	return g, nil
}

func (g *Graph) checkStep(s domain.Step) []error {
	var problems []error
	for _, r := range s.Routes {
		if _, ok := g.steps[r.Target]; !ok {
			problems = append(problems, &domain.UnknownStepError{StepID: r.Target, From: s.ID})
		}
	}
	tools := make(map[string]bool, len(s.AvailableTools))
	for _, name := range s.AvailableTools {
		if tools[name] {
			problems = append(problems, fmt.Errorf("step %q: duplicate available_tools entry %q", s.ID, name))
			continue
		}
		tools[name] = true
		if g.tools == nil {
			problems = append(problems, &domain.UnknownToolError{StepID: s.ID, Tool: name})
			continue
		}
		if _, ok := g.tools.Lookup(name); !ok {
			problems = append(problems, &domain.UnknownToolError{StepID: s.ID, Tool: name})
		}
	}
	if s.MaxIter < 0 {
		problems = append(problems, fmt.Errorf("step %q: max_iter must not be negative", s.ID))
	}
	if s.MaxDelegation < 0 {
		problems = append(problems, fmt.Errorf("step %q: max_delegation must not be negative", s.ID))
	}
	seen := make(map[string]bool, len(s.AnswerModel))
	for _, p := range s.AnswerModel {
		if seen[p.Key] {
			problems = append(problems, fmt.Errorf("step %q: duplicate answer_model field %q", s.ID, p.Key))
		}
		seen[p.Key] = true
		if _, err := schema.ParseType(p.Type); err != nil {
			problems = append(problems, fmt.Errorf("step %q: answer_model field %q: %w", s.ID, p.Key, err))
		}
	}
	return problems
}

func (g *Graph) checkFlows() []error {
	var problems []error
	ids := make(map[string]bool, len(g.flows))
	entryOwner := make(map[string]string)

	for _, f := range g.flows {
		if f.ID == "" {
			problems = append(problems, &domain.FlowIntegrityError{Reason: "flow with empty id"})
			continue
		}
		if ids[f.ID] {
			problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: "duplicate flow id"})
			continue
		}
		ids[f.ID] = true

		if len(f.Enters) == 0 {
			problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: "enters is empty"})
		}
		if len(f.Exits) == 0 {
			problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: "exits is empty"})
		}
		for _, id := range f.Enters {
			if _, ok := g.steps[id]; !ok {
				problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: fmt.Sprintf("enters references unknown step %q", id)})
				continue
			}
			if owner, taken := entryOwner[id]; taken {
				problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: fmt.Sprintf("step %q is already an entry of flow %q", id, owner)})
				continue
			}
			entryOwner[id] = f.ID
			if f.IsExit(id) {
				problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: fmt.Sprintf("step %q is both entry and exit", id)})
			}
		}
		for _, id := range f.Exits {
			if _, ok := g.steps[id]; !ok {
				problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: fmt.Sprintf("exits references unknown step %q", id)})
			}
		}
		if m := f.Memory; m != nil {
			switch m.Method {
			case domain.MemoryFull, domain.MemoryFlow:
			case domain.MemoryRecent:
				if m.Capacity <= 0 {
					problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: "recent memory needs a positive capacity"})
				}
			default:
				problems = append(problems, &domain.FlowIntegrityError{FlowID: f.ID, Reason: fmt.Sprintf("unknown memory method %q", m.Method)})
			}
		}
	}
	return problems
}

// Start returns the start step id.
func (g *Graph) Start() string {
	return g.start
}

// Get returns the step with the given id.
func (g *Graph) Get(stepID string) (domain.Step, error) {
	s, ok := g.steps[stepID]
	if !ok {
		return domain.Step{}, &domain.UnknownStepError{StepID: stepID}
	}
	return s, nil
}

// RoutesFrom returns the ordered routes of a step.
func (g *Graph) RoutesFrom(stepID string) ([]domain.Route, error) {
	s, err := g.Get(stepID)
	if err != nil {
		return nil, err
	}
	return s.Routes, nil
}

// ToolsFor resolves a step's available tools in declaration order.
func (g *Graph) ToolsFor(stepID string) ([]domain.Tool, error) {
	s, err := g.Get(stepID)
	if err != nil {
		return nil, err
	}
	tools := make([]domain.Tool, 0, len(s.AvailableTools))
	for _, name := range s.AvailableTools {
		var (
			t  domain.Tool
			ok bool
		)
		if g.tools != nil {
			t, ok = g.tools.Lookup(name)
		}
		if !ok {
			return nil, &domain.UnknownToolError{StepID: stepID, Tool: name}
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// Steps returns every step in declaration order.
func (g *Graph) Steps() []domain.Step {
	out := make([]domain.Step, len(g.order))
	for i, id := range g.order {
		out[i] = g.steps[id]
	}
	return out
}

// Flows returns the declared flow groups.
func (g *Graph) Flows() []domain.FlowGroup {
	return append([]domain.FlowGroup(nil), g.flows...)
}
