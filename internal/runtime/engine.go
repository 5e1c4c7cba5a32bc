// Package runtime implements the turn state machine that drives a session
// through the step graph.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/decision"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/flow"
	"github.com/aretw0/waypoint/pkg/graph"
	"github.com/aretw0/waypoint/pkg/ports"
	"github.com/aretw0/waypoint/pkg/session"
	"github.com/aretw0/waypoint/pkg/tools"
)

// Engine is the core state machine runner.
// The graph, tool registry and flows are shared read-only; session state is
// only touched while holding the session lock.
type Engine struct {
	graph    *graph.Graph
	invoker  *tools.Invoker
	flows    *flow.Manager
	llm      ports.LLM
	sessions *session.Manager

	persona         string
	maxErrors       int
	defaultMaxIter  int
	maxChain        int
	fallback        FallbackPolicy
	fallbackMessage string
	window          HistoryWindow
	llmTimeout      time.Duration

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// TurnResult is the outcome of Start or Turn.
type TurnResult struct {
	SessionID string
	// Decision is the last dispatched decision: the one that suspended or ended the turn.
	Decision domain.Decision
	// ToolResults lists the tool invocations made during the turn, in order.
	ToolResults []domain.ToolResult
	// Truncated is set when the tool-call bound forced an answer.
	Truncated bool
	// Suspended is set when the turn hit the chain bound.
	Suspended bool
	Session   *domain.Session
	Diff      *domain.SessionDiff
}

// NewEngine creates a new engine with dependencies.
func NewEngine(g *graph.Graph, invoker *tools.Invoker, llm ports.LLM, sessions *session.Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:           g,
		invoker:         invoker,
		flows:           flow.NewManager(g.Flows()),
		llm:             llm,
		sessions:        sessions,
		maxErrors:       DefaultMaxErrors,
		defaultMaxIter:  DefaultMaxIter,
		maxChain:        DefaultMaxChain,
		fallback:        FallbackApology,
		fallbackMessage: DefaultFallbackMessage,
		window:          WindowFull,
		logger:          logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the step graph.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Schema returns the decision contract of a step.
func (e *Engine) Schema(stepID string) (*decision.Schema, error) {
	step, err := e.graph.Get(stepID)
	if err != nil {
		return nil, err
	}
	ts, err := e.graph.ToolsFor(stepID)
	if err != nil {
		return nil, err
	}
	return decision.Build(step, ts), nil
}

// Start creates a session at the graph's start step.
// With initiate set, the agent speaks first: a turn without user input runs immediately.
func (e *Engine) Start(ctx context.Context, sessionID string, initiate bool) (*TurnResult, error) {
	s := domain.NewSession(sessionID, e.graph.Start())
	s.FlowStack = e.flows.MaybeEnter("", s.CurrentStepID, s.FlowStack)

	if err := e.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	e.logger.Info("session created", "session_id", sessionID, "step_id", s.CurrentStepID)
	e.emitStep(ctx, e.hooks.OnStepEnter, domain.EventStepEnter, s, s.CurrentStepID)

	if !initiate {
		return &TurnResult{SessionID: sessionID, Session: s, Diff: domain.Diff(nil, s)}, nil
	}
	return e.Turn(ctx, sessionID, "")
}

// Turn runs one conversational turn. Empty input continues without a user message.
// Overlapping calls on the same session are queued or rejected by the session manager.
func (e *Engine) Turn(ctx context.Context, sessionID string, input string) (*TurnResult, error) {
	var res *TurnResult
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		committed, err := e.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if committed.Terminated() {
			return fmt.Errorf("%w: session %q is %s", domain.ErrSessionTerminated, sessionID, committed.Status)
		}
		res, err = e.run(ctx, committed, input)
		return err
	})
	if err != nil && res == nil {
		return nil, err
	}
	return res, err
}

// Session returns the committed state of a session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.load(ctx, sessionID)
}

// History returns the ordered history of a session.
func (e *Engine) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	s, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.History), nil
}

// End destroys a session.
func (e *Engine) End(ctx context.Context, sessionID string) error {
	return e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := e.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := e.sessions.Store().Delete(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if !s.Terminated() {
			s.Status = domain.StatusTerminated
			e.emitEnd(ctx, s)
		}
		e.logger.Info("session ended", "session_id", sessionID)
		return nil
	})
}

// Sessions lists stored session IDs.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

func (e *Engine) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := e.sessions.Store().Load(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, &domain.UnknownSessionError{SessionID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return s, nil
}

// commit persists s. It ignores caller cancellation: a completed dispatch is always saved.
func (e *Engine) commit(ctx context.Context, s *domain.Session) error {
	s.UpdatedAt = time.Now().UTC()
	if err := e.sessions.Store().Save(context.WithoutCancel(ctx), s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (e *Engine) maxIterFor(step domain.Step) int {
	if step.MaxIter > 0 {
		return step.MaxIter
	}
	return e.defaultMaxIter
}
