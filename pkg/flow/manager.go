// Package flow tracks entry into and exit from named sub-flows.
//
// A flow stack is an ordered list of active flow ids, innermost last. The Manager
// computes new stacks from step transitions and never modifies the stack it is
// given. Exiting a flow that was never entered is a no-op.
package flow

import (
	"slices"

	"github.com/aretw0/waypoint/pkg/domain"
)

// Manager computes flow stack transitions over a fixed set of flow groups.
type Manager struct {
	flows []domain.FlowGroup
	byID  map[string]domain.FlowGroup
}

// NewManager creates a manager for the given flows.
func NewManager(flows []domain.FlowGroup) *Manager {
	m := &Manager{
		flows: slices.Clone(flows),
		byID:  make(map[string]domain.FlowGroup, len(flows)),
	}
	for _, f := range flows {
		m.byID[f.ID] = f
	}
	return m
}

// Flow returns the flow group with the given id.
func (m *Manager) Flow(id string) (domain.FlowGroup, bool) {
	f, ok := m.byID[id]
	return f, ok
}

// MaybeEnter pushes the flow whose enters contain nextStepID, unless that flow is
// already on top of the stack.
func (m *Manager) MaybeEnter(currentStepID, nextStepID string, stack []string) []string {
	out := slices.Clone(stack)
	if out == nil {
		out = []string{}
	}
	for _, f := range m.flows {
		if !f.IsEntry(nextStepID) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == f.ID {
			return out
		}
		return append(out, f.ID)
	}
	return out
}

// MaybeExit pops the innermost flow when nextStepID is one of its exits.
// A flow that claims nextStepID as its entry is pushed afterwards by MaybeEnter,
// so sequential flows replace each other on the stack instead of nesting.
func (m *Manager) MaybeExit(currentStepID, nextStepID string, stack []string) []string {
	out := slices.Clone(stack)
	if out == nil {
		out = []string{}
	}
	if len(out) == 0 {
		return out
	}
	top, ok := m.byID[out[len(out)-1]]
	if !ok || !top.IsExit(nextStepID) {
		return out
	}
	return out[:len(out)-1]
}

// Transition applies MaybeExit then MaybeEnter for a move to nextStepID.
func (m *Manager) Transition(currentStepID, nextStepID string, stack []string) []string {
	return m.MaybeEnter(currentStepID, nextStepID, m.MaybeExit(currentStepID, nextStepID, stack))
}

// Active returns the innermost active flow of the stack.
func (m *Manager) Active(stack []string) (domain.FlowGroup, bool) {
	if len(stack) == 0 {
		return domain.FlowGroup{}, false
	}
	return m.Flow(stack[len(stack)-1])
}
