package dsl

import (
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/graph"
)

// Builder manages the graph construction.
type Builder struct {
	start string
	order []string
	steps map[string]*StepBuilder
	flows []*FlowBuilder
}

// New creates a new graph builder.
func New() *Builder {
	return &Builder{
		steps: make(map[string]*StepBuilder),
	}
}

// Step creates a new step in the graph.
// If the step already exists, it returns the existing builder.
// The first step added is the start step unless Start says otherwise.
func (b *Builder) Step(id string) *StepBuilder {
	if sb, ok := b.steps[id]; ok {
		return sb
	}
	sb := &StepBuilder{step: domain.Step{ID: id}}
	b.steps[id] = sb
	b.order = append(b.order, id)
	if b.start == "" {
		b.start = id
	}
	return sb
}

// Start sets the start step.
func (b *Builder) Start(id string) *Builder {
	b.start = id
	return b
}

// Flow declares a flow group.
func (b *Builder) Flow(id string) *FlowBuilder {
	for _, fb := range b.flows {
		if fb.flow.ID == id {
			return fb
		}
	}
	fb := &FlowBuilder{flow: domain.FlowGroup{ID: id}}
	b.flows = append(b.flows, fb)
	return fb
}

// Steps returns the declared steps in insertion order.
func (b *Builder) Steps() []domain.Step {
	steps := make([]domain.Step, 0, len(b.order))
	for _, id := range b.order {
		steps = append(steps, b.steps[id].step)
	}
	return steps
}

// Flows returns the declared flow groups.
func (b *Builder) Flows() []domain.FlowGroup {
	flows := make([]domain.FlowGroup, 0, len(b.flows))
	for _, fb := range b.flows {
		flows = append(flows, fb.flow)
	}
	return flows
}

// Build compiles the steps and flows into a validated graph.
func (b *Builder) Build(opts ...graph.Option) (*graph.Graph, error) {
	opts = append([]graph.Option{graph.WithFlows(b.Flows()...)}, opts...)
	return graph.New(b.Steps(), b.start, opts...)
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild(opts ...graph.Option) *graph.Graph {
	g, err := b.Build(opts...)
	if err != nil {
		panic(err)
	}
	return g
}
