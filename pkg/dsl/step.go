package dsl

import "github.com/aretw0/waypoint/pkg/domain"

// StepBuilder provides a fluent API for configuring a step.
type StepBuilder struct {
	step domain.Step
}

// Describe sets the instructions given to the LLM on this step.
func (s *StepBuilder) Describe(text string) *StepBuilder {
	s.step.Description = text
	return s
}

// Go adds an unconditional route to the target step.
func (s *StepBuilder) Go(target string) *StepBuilder {
	s.step.Routes = append(s.step.Routes, domain.Route{Target: target})
	return s
}

// Branch adds a route whose condition is shown to the LLM.
func (s *StepBuilder) Branch(condition string, target string) *StepBuilder {
	s.step.Routes = append(s.step.Routes, domain.Route{Target: target, Condition: condition})
	return s
}

// Tools makes tools available on this step.
func (s *StepBuilder) Tools(names ...string) *StepBuilder {
	s.step.AvailableTools = append(s.step.AvailableTools, names...)
	return s
}

// Answer turns ANSWER into a structured object with the given fields.
func (s *StepBuilder) Answer(fields ...domain.Parameter) *StepBuilder {
	s.step.AnswerModel = append(s.step.AnswerModel, fields...)
	return s
}

// Auto makes the engine decide again right after moving into this step.
func (s *StepBuilder) Auto() *StepBuilder {
	s.step.AutoFlow = true
	return s
}

// MaxIter bounds consecutive tool calls on this step.
func (s *StepBuilder) MaxIter(n int) *StepBuilder {
	s.step.MaxIter = n
	return s
}

// Delegate allows delegation with at most n delegated calls.
func (s *StepBuilder) Delegate(n int) *StepBuilder {
	s.step.AllowDelegation = true
	s.step.MaxDelegation = n
	return s
}

// StopOnError ends the session when a tool fails on this step.
func (s *StepBuilder) StopOnError() *StepBuilder {
	s.step.StopOnError = true
	return s
}

// Build returns the underlying domain.Step.
func (s *StepBuilder) Build() domain.Step {
	return s.step
}

// FlowBuilder configures a flow group.
type FlowBuilder struct {
	flow domain.FlowGroup
}

// Enters adds entry steps.
func (f *FlowBuilder) Enters(ids ...string) *FlowBuilder {
	f.flow.Enters = append(f.flow.Enters, ids...)
	return f
}

// Exits adds exit steps.
func (f *FlowBuilder) Exits(ids ...string) *FlowBuilder {
	f.flow.Exits = append(f.flow.Exits, ids...)
	return f
}

// Memory scopes the history seen inside the flow.
func (f *FlowBuilder) Memory(method string, capacity int) *FlowBuilder {
	f.flow.Memory = &domain.MemoryConfig{Method: method, Capacity: capacity}
	return f
}

// Build returns the underlying domain.FlowGroup.
func (f *FlowBuilder) Build() domain.FlowGroup {
	return f.flow
}
