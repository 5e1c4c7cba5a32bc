package runtime

import (
	"context"
	"time"

	"github.com/aretw0/waypoint/pkg/domain"
)

// historyFor returns the entries of s visible to the LLM.
// A memory configuration on the innermost active flow overrides the engine window.
func (e *Engine) historyFor(s *domain.Session) []domain.HistoryEntry {
	method := string(e.window)
	capacity := 0
	active := s.ActiveFlow()
	if f, ok := e.flows.Active(s.FlowStack); ok && f.Memory != nil {
		method = f.Memory.Method
		capacity = f.Memory.Capacity
	}

	var out []domain.HistoryEntry
	switch method {
	case domain.MemoryRecent:
		from := max(len(s.History)-capacity, 0)
		out = append(out, s.History[from:]...)
	case domain.MemoryFlow:
		if active == "" {
			out = append(out, s.History...)
			break
		}
		for _, h := range s.History {
			if h.FlowID == active {
				out = append(out, h)
			}
		}
	default:
		out = append(out, s.History...)
	}
	if out == nil {
		out = []domain.HistoryEntry{}
	}
	return out
}

func (e *Engine) base(typ domain.EventType, sessionID string) domain.EventBase {
	return domain.EventBase{Timestamp: time.Now().UTC(), Type: typ, SessionID: sessionID}
}

func (e *Engine) emitStep(ctx context.Context, hook func(context.Context, *domain.StepEvent), typ domain.EventType, s *domain.Session, stepID string) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.StepEvent{
		EventBase: e.base(typ, s.ID),
		StepID:    stepID,
		FlowID:    s.ActiveFlow(),
	})
}

func (e *Engine) emitDecision(ctx context.Context, s *domain.Session, stepID string, action domain.Action) {
	if e.hooks.OnDecision == nil {
		return
	}
	e.hooks.OnDecision(ctx, &domain.DecisionEvent{
		EventBase: e.base(domain.EventDecision, s.ID),
		StepID:    stepID,
		Action:    action,
	})
}

func (e *Engine) emitEnd(ctx context.Context, s *domain.Session) {
	if e.hooks.OnSessionEnd == nil {
		return
	}
	e.hooks.OnSessionEnd(ctx, &domain.EndEvent{
		EventBase: e.base(domain.EventSessionEnd, s.ID),
		StepID:    s.CurrentStepID,
		Status:    s.Status,
	})
}
