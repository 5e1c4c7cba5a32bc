package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/waypoint/pkg/decision"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/ports"
)

// turn carries the state of one Turn call.
type turn struct {
	committed *domain.Session
	s         *domain.Session
	res       *TurnResult
}

// run drives the decision loop until the session suspends or terminates.
// Each dispatch works on a copy that is committed only once it completes, so a
// cancelled turn leaves the last committed state untouched.
func (e *Engine) run(ctx context.Context, committed *domain.Session, input string) (*TurnResult, error) {
	t := &turn{
		committed: committed,
		s:         committed.Clone(),
		res:       &TurnResult{SessionID: committed.ID},
	}
	if input != "" {
		t.s.Append(domain.HistoryEntry{Role: domain.RoleUser, Content: input})
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n >= e.maxChain {
			e.logger.Warn("turn suspended at chain limit", "session_id", t.s.ID, "step_id", t.s.CurrentStepID, "limit", e.maxChain)
			t.s.Append(domain.HistoryEntry{
				Role:    domain.RoleSystem,
				Content: fmt.Sprintf("turn suspended after %d decisions", e.maxChain),
			})
			t.res.Suspended = true
			return e.finish(ctx, t)
		}

		step, err := e.graph.Get(t.s.CurrentStepID)
		if err != nil {
			return nil, err
		}
		sc, err := e.Schema(step.ID)
		if err != nil {
			return nil, err
		}

		d, err := e.decide(ctx, t.s, step, sc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			done, ferr := e.reject(ctx, t, step, err)
			if done {
				if t.res.Session == nil {
					return nil, ferr
				}
				return t.res, ferr
			}
			continue
		}

		t.s.ConsecutiveErrors = 0
		t.res.Decision = d
		e.emitDecision(ctx, t.s, step.ID, d.Action())
		e.logger.Debug("decision", "session_id", t.s.ID, "step_id", step.ID, "action", d.Action())

		done, err := e.dispatch(ctx, t, step, d)
		if err != nil {
			return nil, err
		}
		if done {
			return t.res, nil
		}
	}
}

// decide asks the LLM for a decision and validates it.
func (e *Engine) decide(ctx context.Context, s *domain.Session, step domain.Step, sc *decision.Schema) (domain.Decision, error) {
	req := &ports.GenerateRequest{
		SessionID:       s.ID,
		Persona:         e.persona,
		StepID:          step.ID,
		StepDescription: step.Description,
		Routes:          step.Routes,
		History:         e.historyFor(s),
		FlowStack:       append([]string(nil), s.FlowStack...),
		AllowDelegation: step.AllowDelegation,
		MaxDelegation:   step.MaxDelegation,
		Attempt:         s.ConsecutiveErrors,
		Schema:          sc,
	}
	if f, ok := e.flows.Active(s.FlowStack); ok {
		req.Memory = f.Memory
	}

	callCtx := ctx
	if e.llmTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.llmTimeout)
		defer cancel()
	}
	raw, err := e.llm.Generate(callCtx, req)
	if err != nil {
		return nil, &domain.LLMError{Cause: err}
	}

	d, err := decision.Validate(sc, raw)
	if err != nil {
		return nil, err
	}
	if mv, ok := d.(domain.Move); ok && !step.HasRoute(mv.NextStepID) {
		return nil, &domain.SchemaValidationError{
			StepID:     step.ID,
			Violations: []domain.Violation{{Field: "next_step_id", Reason: fmt.Sprintf("%q is not a route of this step", mv.NextStepID)}},
		}
	}
	return d, nil
}

// reject records a failed decision. It reports done once the error budget is spent.
func (e *Engine) reject(ctx context.Context, t *turn, step domain.Step, cause error) (bool, error) {
	s := t.s
	s.ConsecutiveErrors++
	e.logger.Warn("decision rejected",
		"session_id", s.ID,
		"step_id", step.ID,
		"consecutive_errors", s.ConsecutiveErrors,
		"err", cause,
	)
	if e.hooks.OnValidationError != nil {
		e.hooks.OnValidationError(ctx, &domain.ErrorEvent{
			EventBase:         e.base(domain.EventValidationError, s.ID),
			StepID:            step.ID,
			Err:               cause,
			ConsecutiveErrors: s.ConsecutiveErrors,
		})
	}

	if s.ConsecutiveErrors <= e.maxErrors {
		s.Append(domain.HistoryEntry{Role: domain.RoleError, Content: cause.Error()})
		if err := e.commit(ctx, s); err != nil {
			return true, err
		}
		return false, nil
	}
	return true, e.fallbackTo(ctx, t, cause)
}

// fallbackTo degrades the session according to the fallback policy.
func (e *Engine) fallbackTo(ctx context.Context, t *turn, cause error) error {
	s := t.s
	s.Status = domain.StatusDegraded
	e.logger.Error("error budget exhausted", "session_id", s.ID, "step_id", s.CurrentStepID, "policy", e.fallback, "err", cause)

	var err error
	switch e.fallback {
	case FallbackApology:
		s.Append(domain.HistoryEntry{Role: domain.RoleAssistant, Content: e.fallbackMessage, Action: domain.ActionAnswer})
		t.res.Decision = domain.Answer{Response: e.fallbackMessage}
	case FallbackError:
		t.res.Decision = nil
		err = fmt.Errorf("%w: %w", domain.ErrMaxErrorsExceeded, cause)
	default:
		t.res.Decision = domain.End{}
	}
	s.Append(domain.HistoryEntry{Role: domain.RoleSystem, Content: "session degraded: " + cause.Error(), Action: domain.ActionEnd})

	if _, cerr := e.finish(ctx, t); cerr != nil {
		return cerr
	}
	e.emitEnd(ctx, s)
	return err
}

// dispatch executes a validated decision. It reports done when the turn suspends.
func (e *Engine) dispatch(ctx context.Context, t *turn, step domain.Step, d domain.Decision) (bool, error) {
	s := t.s
	switch d := d.(type) {
	case domain.Ask:
		s.Append(domain.HistoryEntry{Role: domain.RoleAssistant, Content: d.Response, Action: domain.ActionAsk})
		s.StepIterations = 0
		_, err := e.finish(ctx, t)
		return true, err

	case domain.Answer:
		entry := domain.HistoryEntry{Role: domain.RoleAssistant, Content: d.Response, Action: domain.ActionAnswer}
		if d.Structured != nil {
			entry.Data = d.Structured
			if b, err := json.Marshal(d.Structured); err == nil {
				entry.Content = string(b)
			}
		}
		s.Append(entry)
		s.StepIterations = 0
		_, err := e.finish(ctx, t)
		return true, err

	case domain.Move:
		return e.move(ctx, t, step, d)

	case domain.ToolCall:
		return e.callTool(ctx, t, step, d)

	case domain.End:
		s.Status = domain.StatusTerminated
		s.Append(domain.HistoryEntry{Role: domain.RoleSystem, Content: "session ended", Action: domain.ActionEnd})
		if _, err := e.finish(ctx, t); err != nil {
			return true, err
		}
		e.logger.Info("session terminated", "session_id", s.ID, "step_id", s.CurrentStepID)
		e.emitEnd(ctx, s)
		return true, nil
	}
	return true, fmt.Errorf("unsupported decision %T", d)
}

func (e *Engine) move(ctx context.Context, t *turn, step domain.Step, d domain.Move) (bool, error) {
	s := t.s
	next, err := e.graph.Get(d.NextStepID)
	if err != nil {
		return true, err
	}

	e.emitStep(ctx, e.hooks.OnStepLeave, domain.EventStepLeave, s, step.ID)
	s.FlowStack = e.flows.Transition(step.ID, next.ID, s.FlowStack)
	s.CurrentStepID = next.ID
	s.StepIterations = 0
	s.Append(domain.HistoryEntry{
		Role:    domain.RoleSystem,
		Content: fmt.Sprintf("moved from %s to %s", step.ID, next.ID),
		Action:  domain.ActionMove,
	})
	e.emitStep(ctx, e.hooks.OnStepEnter, domain.EventStepEnter, s, next.ID)
	e.logger.Debug("step transition", "session_id", s.ID, "from", step.ID, "to", next.ID, "flow_stack", s.FlowStack)

	if err := e.checkpoint(ctx, t); err != nil {
		return true, err
	}
	if next.AutoFlow {
		return false, nil
	}
	_, err = e.finish(ctx, t)
	return true, err
}

func (e *Engine) callTool(ctx context.Context, t *turn, step domain.Step, d domain.ToolCall) (bool, error) {
	s := t.s
	s.StepIterations++
	if limit := e.maxIterFor(step); s.StepIterations > limit {
		notice := fmt.Sprintf("Stopped after %d tool calls on step %s without reaching an answer.", limit, step.ID)
		e.logger.Warn("tool iteration limit reached", "session_id", s.ID, "step_id", step.ID, "limit", limit)
		s.Append(domain.HistoryEntry{Role: domain.RoleAssistant, Content: notice, Action: domain.ActionAnswer})
		s.StepIterations = 0
		t.res.Decision = domain.Answer{Reasoning: d.Reasoning, Response: notice}
		t.res.Truncated = true
		_, err := e.finish(ctx, t)
		return true, err
	}

	if e.hooks.OnToolCall != nil {
		e.hooks.OnToolCall(ctx, &domain.ToolEvent{
			EventBase: e.base(domain.EventToolCall, s.ID),
			StepID:    step.ID,
			ToolName:  d.ToolName,
			Input:     d.Kwargs,
		})
	}
	start := time.Now()
	out, ierr := e.invoker.Invoke(ctx, d.ToolName, d.Kwargs)
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		return true, ctx.Err()
	}

	result := domain.ToolResult{Tool: d.ToolName, Args: d.Kwargs, Result: out}
	content := stringify(out)
	if ierr != nil {
		result.IsError = true
		result.Error = ierr.Error()
		result.Result = nil
		content = ierr.Error()
	}
	if e.hooks.OnToolReturn != nil {
		e.hooks.OnToolReturn(ctx, &domain.ToolEvent{
			EventBase: e.base(domain.EventToolReturn, s.ID),
			StepID:    step.ID,
			ToolName:  d.ToolName,
			Input:     d.Kwargs,
			Output:    result.Result,
			IsError:   result.IsError,
			Duration:  elapsed,
		})
	}

	t.res.ToolResults = append(t.res.ToolResults, result)
	s.Append(domain.HistoryEntry{Role: domain.RoleTool, Content: content, Action: domain.ActionToolCall, Tool: &result})

	if ierr != nil && step.StopOnError {
		s.Status = domain.StatusFailed
		e.logger.Error("tool failed on stop_on_error step", "session_id", s.ID, "step_id", step.ID, "tool", d.ToolName, "err", ierr)
		if _, err := e.finish(ctx, t); err != nil {
			return true, err
		}
		e.emitEnd(ctx, s)
		return true, nil
	}
	return false, e.checkpoint(ctx, t)
}

// checkpoint commits an intermediate state inside a chain.
func (e *Engine) checkpoint(ctx context.Context, t *turn) error {
	return e.commit(ctx, t.s)
}

// finish commits the final state of the turn and fills in the result.
func (e *Engine) finish(ctx context.Context, t *turn) (*TurnResult, error) {
	if err := e.commit(ctx, t.s); err != nil {
		return nil, err
	}
	t.res.Session = t.s.Clone()
	t.res.Diff = domain.Diff(t.committed, t.s)
	return t.res, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
