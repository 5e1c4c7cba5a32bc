package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/waypoint/internal/runtime"
	"github.com/aretw0/waypoint/pkg/adapters/memory"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/graph"
	"github.com/aretw0/waypoint/pkg/ports"
	"github.com/aretw0/waypoint/pkg/session"
	"github.com/aretw0/waypoint/pkg/tools"
)

// script replays canned LLM outputs in order and records every request.
type script struct {
	mu      sync.Mutex
	outputs []string
	reqs    []*ports.GenerateRequest
}

func newScript(outputs ...string) *script {
	return &script{outputs: outputs}
}

func (s *script) Generate(_ context.Context, req *ports.GenerateRequest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if len(s.outputs) == 0 {
		return nil, errors.New("script exhausted")
	}
	out := s.outputs[0]
	s.outputs = s.outputs[1:]
	return []byte(out), nil
}

func (s *script) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *script) last() *ports.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

type fixture struct {
	engine *runtime.Engine
	store  *memory.Store
}

func registry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	reg.MustRegister(tools.EchoTool, tools.Echo)
	reg.MustRegister(domain.Tool{Name: "boom", Description: "Always fails."}, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("kaboom")
	})
	return reg
}

func setup(t *testing.T, steps []domain.Step, start string, flows []domain.FlowGroup, llm ports.LLM, opts ...runtime.EngineOption) fixture {
	t.Helper()
	reg := registry(t)
	g, err := graph.New(steps, start, graph.WithTools(reg), graph.WithFlows(flows...))
	require.NoError(t, err)

	store := memory.NewStore()
	e := runtime.NewEngine(g, tools.NewInvoker(reg), llm, session.NewManager(store), opts...)
	return fixture{engine: e, store: store}
}

func supportGraph() []domain.Step {
	return []domain.Step{
		{
			ID:             "greet",
			Description:    "Greet the user and ask for their name.",
			Routes:         []domain.Route{{Target: "lookup", Condition: "name known"}},
			AvailableTools: []string{"echo"},
		},
		{
			ID:          "lookup",
			Description: "Look the user up.",
			Routes:      []domain.Route{{Target: "bye"}},
		},
		{ID: "bye", Description: "Say goodbye."},
	}
}

func TestEngine_Conversation(t *testing.T) {
	ctx := context.Background()
	llm := newScript(
		`{"action":"ASK","reasoning":["need a name"],"response":"What's your name?"}`,
		`{"action":"TOOL_CALL","tool_name":"echo","tool_kwargs":{"text":"Ada"}}`,
		`{"action":"MOVE","next_step_id":"lookup"}`,
		`{"action":"END"}`,
	)
	f := setup(t, supportGraph(), "greet", nil, llm)

	res, err := f.engine.Start(ctx, "s1", false)
	require.NoError(t, err)
	assert.Equal(t, "greet", res.Session.CurrentStepID)
	assert.Nil(t, res.Decision)

	res, err = f.engine.Turn(ctx, "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, domain.Ask{Reasoning: []string{"need a name"}, Response: "What's your name?"}, res.Decision)
	require.NotNil(t, res.Diff)
	assert.Len(t, res.Diff.Appended, 2)

	res, err = f.engine.Turn(ctx, "s1", "Ada")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionMove, res.Decision.Action())
	require.Len(t, res.ToolResults, 1)
	assert.Equal(t, "Ada", res.ToolResults[0].Result)
	assert.Equal(t, "lookup", res.Session.CurrentStepID)
	assert.Equal(t, domain.StatusAwaitingInput, res.Session.Status)

	res, err = f.engine.Turn(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.End{}, res.Decision)
	assert.Equal(t, domain.StatusTerminated, res.Session.Status)

	history, err := f.engine.History(ctx, "s1")
	require.NoError(t, err)
	roles := make([]domain.Role, len(history))
	for i, h := range history {
		roles[i] = h.Role
	}
	assert.Equal(t, []domain.Role{
		domain.RoleUser, domain.RoleAssistant,
		domain.RoleUser, domain.RoleTool, domain.RoleSystem,
		domain.RoleSystem,
	}, roles)
	assert.Equal(t, "greet", history[3].StepID)
	assert.Equal(t, "lookup", history[4].StepID)

	_, err = f.engine.Turn(ctx, "s1", "hello?")
	assert.ErrorIs(t, err, domain.ErrSessionTerminated)
	assert.Equal(t, 4, llm.calls())
}

func TestEngine_RequestContext(t *testing.T) {
	ctx := context.Background()
	llm := newScript(`{"action":"ASK","response":"?"}`)
	f := setup(t, supportGraph(), "greet", nil, llm, runtime.WithPersona("You are Waypoint."))

	_, err := f.engine.Start(ctx, "s1", false)
	require.NoError(t, err)
	_, err = f.engine.Turn(ctx, "s1", "hi")
	require.NoError(t, err)

	req := llm.last()
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "You are Waypoint.", req.Persona)
	assert.Equal(t, "greet", req.StepID)
	assert.Equal(t, "Greet the user and ask for their name.", req.StepDescription)
	require.Len(t, req.History, 1)
	assert.Equal(t, "hi", req.History[0].Content)
	require.NotNil(t, req.Schema)
	assert.Equal(t, []domain.Action{domain.ActionAsk, domain.ActionAnswer, domain.ActionMove, domain.ActionToolCall, domain.ActionEnd}, req.Schema.Actions)
}

func TestEngine_StartInitiate(t *testing.T) {
	llm := newScript(`{"action":"ASK","response":"Hello! Who am I talking to?"}`)
	f := setup(t, supportGraph(), "greet", nil, llm)

	res, err := f.engine.Start(context.Background(), "s1", true)
	require.NoError(t, err)
	require.Len(t, res.Session.History, 1)
	assert.Equal(t, domain.RoleAssistant, res.Session.History[0].Role)

	_, err = f.engine.Start(context.Background(), "s1", false)
	assert.Error(t, err, "duplicate session id must be rejected")
}

func TestEngine_UnknownSession(t *testing.T) {
	f := setup(t, supportGraph(), "greet", nil, newScript())

	_, err := f.engine.Turn(context.Background(), "ghost", "hi")
	var unknown *domain.UnknownSessionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.SessionID)
	assert.ErrorIs(t, f.engine.End(context.Background(), "ghost"), domain.ErrSessionNotFound)
}

func TestEngine_ToolIterationLimit(t *testing.T) {
	call := `{"action":"TOOL_CALL","tool_name":"echo","tool_kwargs":{"text":"again"}}`
	llm := newScript(call, call, call, call)
	steps := []domain.Step{{ID: "loop", AvailableTools: []string{"echo"}, MaxIter: 2}}
	f := setup(t, steps, "loop", nil, llm)

	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)
	res, err := f.engine.Turn(context.Background(), "s1", "go")
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Len(t, res.ToolResults, 2)
	assert.Equal(t, 3, llm.calls())
	assert.Equal(t, domain.ActionAnswer, res.Decision.Action())
	assert.Equal(t, 0, res.Session.StepIterations)
	assert.Equal(t, domain.StatusAwaitingInput, res.Session.Status)
}

func TestEngine_DefaultToolIterationLimit(t *testing.T) {
	call := `{"action":"TOOL_CALL","tool_name":"echo","tool_kwargs":{"text":"again"}}`
	llm := newScript(call, call, call, call, call)
	steps := []domain.Step{{ID: "loop", AvailableTools: []string{"echo"}}}
	f := setup(t, steps, "loop", nil, llm, runtime.WithDefaultMaxIter(1))

	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)
	res, err := f.engine.Turn(context.Background(), "s1", "go")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.ToolResults, 1)
}

func TestEngine_ErrorRecovery(t *testing.T) {
	llm := newScript(
		`not json at all`,
		`{"action":"TOOL_CALL","tool_name":"boom"}`,
		`{"action":"ASK","response":"Sorry, could you repeat?"}`,
	)
	f := setup(t, supportGraph(), "greet", nil, llm)

	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)
	res, err := f.engine.Turn(context.Background(), "s1", "hi")
	require.NoError(t, err)

	assert.Equal(t, domain.ActionAsk, res.Decision.Action())
	assert.Equal(t, 0, res.Session.ConsecutiveErrors)
	assert.Equal(t, 0, res.Session.StepIterations, "rejected decisions do not consume tool iterations")

	var errs []domain.HistoryEntry
	for _, h := range res.Session.History {
		if h.Role == domain.RoleError {
			errs = append(errs, h)
		}
	}
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Content, "not a JSON object")
	assert.Contains(t, errs[1].Content, `"boom"`)
	assert.Equal(t, 2, llm.last().Attempt)
}

func TestEngine_ErrorBudget(t *testing.T) {
	bad := `{"action":"FLY"}`

	t.Run("apology", func(t *testing.T) {
		llm := newScript(bad, bad, bad, bad, bad)
		var ended []domain.SessionStatus
		hooks := domain.LifecycleHooks{OnSessionEnd: func(_ context.Context, e *domain.EndEvent) { ended = append(ended, e.Status) }}
		f := setup(t, supportGraph(), "greet", nil, llm,
			runtime.WithMaxErrors(3),
			runtime.WithFallback(runtime.FallbackApology, "We'll be right back."),
			runtime.WithLifecycleHooks(hooks),
		)
		_, err := f.engine.Start(context.Background(), "s1", false)
		require.NoError(t, err)

		res, err := f.engine.Turn(context.Background(), "s1", "hi")
		require.NoError(t, err)
		assert.Equal(t, 4, llm.calls(), "the fourth failure falls back instead of retrying")
		assert.Equal(t, domain.Answer{Response: "We'll be right back."}, res.Decision)
		assert.Equal(t, domain.StatusDegraded, res.Session.Status)
		assert.Equal(t, []domain.SessionStatus{domain.StatusDegraded}, ended)

		_, err = f.engine.Turn(context.Background(), "s1", "hello?")
		assert.ErrorIs(t, err, domain.ErrSessionTerminated)
	})

	t.Run("silent", func(t *testing.T) {
		llm := newScript(bad, bad)
		f := setup(t, supportGraph(), "greet", nil, llm,
			runtime.WithMaxErrors(1),
			runtime.WithFallback(runtime.FallbackSilent, ""),
		)
		_, err := f.engine.Start(context.Background(), "s1", false)
		require.NoError(t, err)

		res, err := f.engine.Turn(context.Background(), "s1", "hi")
		require.NoError(t, err)
		assert.Equal(t, domain.End{}, res.Decision)
		assert.Equal(t, domain.StatusDegraded, res.Session.Status)
	})

	t.Run("error", func(t *testing.T) {
		llm := newScript(bad)
		f := setup(t, supportGraph(), "greet", nil, llm,
			runtime.WithMaxErrors(0),
			runtime.WithFallback(runtime.FallbackError, ""),
		)
		_, err := f.engine.Start(context.Background(), "s1", false)
		require.NoError(t, err)

		res, err := f.engine.Turn(context.Background(), "s1", "hi")
		require.ErrorIs(t, err, domain.ErrMaxErrorsExceeded)
		var sve *domain.SchemaValidationError
		assert.ErrorAs(t, err, &sve)
		require.NotNil(t, res)
		assert.Equal(t, domain.StatusDegraded, res.Session.Status)

		stored, err := f.store.Load(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDegraded, stored.Status)
	})
}

func TestEngine_LLMFailureIsRetried(t *testing.T) {
	calls := 0
	llm := ports.LLMFunc(func(context.Context, *ports.GenerateRequest) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("provider unavailable")
		}
		return []byte(`{"action":"ASK","response":"Hi"}`), nil
	})
	f := setup(t, supportGraph(), "greet", nil, llm)
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	res, err := f.engine.Turn(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, domain.RoleError, res.Session.History[1].Role)
	assert.Contains(t, res.Session.History[1].Content, "provider unavailable")
}

func TestEngine_ToolFailure(t *testing.T) {
	steps := func(stop bool) []domain.Step {
		return []domain.Step{{ID: "work", AvailableTools: []string{"boom"}, StopOnError: stop}}
	}

	t.Run("fed back", func(t *testing.T) {
		llm := newScript(`{"action":"TOOL_CALL","tool_name":"boom"}`, `{"action":"ANSWER","response":"That failed."}`)
		f := setup(t, steps(false), "work", nil, llm)
		_, err := f.engine.Start(context.Background(), "s1", false)
		require.NoError(t, err)

		res, err := f.engine.Turn(context.Background(), "s1", "go")
		require.NoError(t, err)
		require.Len(t, res.ToolResults, 1)
		assert.True(t, res.ToolResults[0].IsError)
		assert.Contains(t, res.ToolResults[0].Error, "kaboom")
		assert.Equal(t, domain.StatusAwaitingInput, res.Session.Status)

		last := llm.last().History
		assert.Equal(t, domain.RoleTool, last[len(last)-1].Role)
	})

	t.Run("stop on error", func(t *testing.T) {
		llm := newScript(`{"action":"TOOL_CALL","tool_name":"boom"}`)
		var ended bool
		f := setup(t, steps(true), "work", nil, llm, runtime.WithLifecycleHooks(domain.LifecycleHooks{
			OnSessionEnd: func(_ context.Context, e *domain.EndEvent) {
				ended = e.Status == domain.StatusFailed
			},
		}))
		_, err := f.engine.Start(context.Background(), "s1", false)
		require.NoError(t, err)

		res, err := f.engine.Turn(context.Background(), "s1", "go")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, res.Session.Status)
		assert.True(t, ended)
		assert.Equal(t, 1, llm.calls())
	})
}

func TestEngine_AutoFlow(t *testing.T) {
	steps := []domain.Step{
		{ID: "intake", Routes: []domain.Route{{Target: "triage"}}},
		{ID: "triage", AutoFlow: true, Routes: []domain.Route{{Target: "intake"}}},
	}
	llm := newScript(`{"action":"MOVE","next_step_id":"triage"}`, `{"action":"ANSWER","response":"Routed."}`)
	f := setup(t, steps, "intake", nil, llm)
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	res, err := f.engine.Turn(context.Background(), "s1", "help")
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls())
	assert.Equal(t, "triage", res.Session.CurrentStepID)
	assert.Equal(t, domain.Answer{Response: "Routed."}, res.Decision)
	assert.Equal(t, "triage", llm.last().StepID)
}

func TestEngine_ChainLimit(t *testing.T) {
	steps := []domain.Step{
		{ID: "a", AutoFlow: true, Routes: []domain.Route{{Target: "b"}}},
		{ID: "b", AutoFlow: true, Routes: []domain.Route{{Target: "a"}}},
	}
	llm := ports.LLMFunc(func(_ context.Context, req *ports.GenerateRequest) ([]byte, error) {
		next := "a"
		if req.StepID == "a" {
			next = "b"
		}
		return []byte(`{"action":"MOVE","next_step_id":"` + next + `"}`), nil
	})
	f := setup(t, steps, "a", nil, llm, runtime.WithMaxChain(3))
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	res, err := f.engine.Turn(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.Equal(t, "b", res.Session.CurrentStepID)
	last := res.Session.History[len(res.Session.History)-1]
	assert.Equal(t, domain.RoleSystem, last.Role)

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingInput, stored.Status)
}

func TestEngine_CancelledTurnKeepsCommittedState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := ports.LLMFunc(func(ctx context.Context, _ *ports.GenerateRequest) ([]byte, error) {
		cancel()
		return nil, ctx.Err()
	})
	f := setup(t, supportGraph(), "greet", nil, llm)
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	_, err = f.engine.Turn(ctx, "s1", "hi")
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, stored.History, "the user message of a cancelled turn is not persisted")
	assert.Equal(t, 0, stored.ConsecutiveErrors)
}

func TestEngine_Flows(t *testing.T) {
	steps := []domain.Step{
		{ID: "menu", Routes: []domain.Route{{Target: "cart"}}},
		{ID: "cart", Routes: []domain.Route{{Target: "pay"}}},
		{ID: "pay", Routes: []domain.Route{{Target: "menu"}}},
	}
	flows := []domain.FlowGroup{{
		ID:     "checkout",
		Enters: []string{"cart"},
		Exits:  []string{"menu"},
		Memory: &domain.MemoryConfig{Method: domain.MemoryRecent, Capacity: 2},
	}}
	llm := newScript(
		`{"action":"MOVE","next_step_id":"cart"}`,
		`{"action":"ASK","response":"What to buy?"}`,
		`{"action":"MOVE","next_step_id":"pay"}`,
		`{"action":"MOVE","next_step_id":"menu"}`,
	)
	f := setup(t, steps, "menu", flows, llm)
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	res, err := f.engine.Turn(context.Background(), "s1", "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout"}, res.Session.FlowStack)

	_, err = f.engine.Turn(context.Background(), "s1", "apples")
	require.NoError(t, err)
	req := llm.last()
	require.NotNil(t, req.Memory)
	assert.Equal(t, domain.MemoryRecent, req.Memory.Method)
	assert.Len(t, req.History, 2)
	assert.Equal(t, []string{"checkout"}, req.FlowStack)

	res, err = f.engine.Turn(context.Background(), "s1", "pay")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout"}, res.Session.FlowStack)

	res, err = f.engine.Turn(context.Background(), "s1", "done")
	require.NoError(t, err)
	assert.Equal(t, "menu", res.Session.CurrentStepID)
	assert.Empty(t, res.Session.FlowStack)
}

func TestEngine_SequentialFlows(t *testing.T) {
	steps := []domain.Step{
		{ID: "s", Routes: []domain.Route{{Target: "a1"}}},
		{ID: "a1", Routes: []domain.Route{{Target: "b1"}}},
		{ID: "b1", Routes: []domain.Route{{Target: "z"}}},
		{ID: "z"},
	}
	flows := []domain.FlowGroup{
		{ID: "A", Enters: []string{"a1"}, Exits: []string{"b1"}},
		{ID: "B", Enters: []string{"b1"}, Exits: []string{"z"}},
	}
	llm := newScript(
		`{"action":"MOVE","next_step_id":"a1"}`,
		`{"action":"MOVE","next_step_id":"b1"}`,
		`{"action":"MOVE","next_step_id":"z"}`,
	)
	f := setup(t, steps, "s", flows, llm)
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	want := []struct {
		step  string
		stack []string
	}{
		{"a1", []string{"A"}},
		{"b1", []string{"B"}},
		{"z", []string{}},
	}
	for _, w := range want {
		res, err := f.engine.Turn(context.Background(), "s1", "next")
		require.NoError(t, err)
		assert.Equal(t, w.step, res.Session.CurrentStepID)
		assert.Equal(t, w.stack, res.Session.FlowStack, "stack at %s", w.step)
	}

	stored, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, stored.FlowStack)
}

func TestEngine_FlowWindow(t *testing.T) {
	steps := []domain.Step{
		{ID: "menu", Routes: []domain.Route{{Target: "cart"}}},
		{ID: "cart", Routes: []domain.Route{{Target: "menu"}}},
	}
	flows := []domain.FlowGroup{{ID: "checkout", Enters: []string{"cart"}, Exits: []string{"menu"}}}
	llm := newScript(
		`{"action":"ASK","response":"Hungry?"}`,
		`{"action":"MOVE","next_step_id":"cart"}`,
		`{"action":"ASK","response":"What to buy?"}`,
	)
	f := setup(t, steps, "menu", flows, llm, runtime.WithHistoryWindow(runtime.WindowFlow))
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	_, err = f.engine.Turn(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Len(t, llm.last().History, 1, "outside a flow the whole history is visible")

	_, err = f.engine.Turn(context.Background(), "s1", "shop")
	require.NoError(t, err)
	_, err = f.engine.Turn(context.Background(), "s1", "apples")
	require.NoError(t, err)
	for _, h := range llm.last().History {
		assert.Equal(t, "checkout", h.FlowID)
	}
	assert.NotEmpty(t, llm.last().History)
}

func TestEngine_Hooks(t *testing.T) {
	var mu sync.Mutex
	var events []domain.EventType
	record := func(typ domain.EventType) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, typ)
	}
	hooks := domain.LifecycleHooks{
		OnStepEnter:       func(_ context.Context, e *domain.StepEvent) { record(e.Type) },
		OnStepLeave:       func(_ context.Context, e *domain.StepEvent) { record(e.Type) },
		OnDecision:        func(_ context.Context, e *domain.DecisionEvent) { record(e.Type) },
		OnToolCall:        func(_ context.Context, e *domain.ToolEvent) { record(e.Type) },
		OnToolReturn:      func(_ context.Context, e *domain.ToolEvent) { record(e.Type) },
		OnValidationError: func(_ context.Context, e *domain.ErrorEvent) { record(e.Type) },
		OnSessionEnd:      func(_ context.Context, e *domain.EndEvent) { record(e.Type) },
	}
	llm := newScript(
		`{"action":"MOVE","next_step_id":"nowhere"}`,
		`{"action":"TOOL_CALL","tool_name":"echo","tool_kwargs":{"text":"x"}}`,
		`{"action":"MOVE","next_step_id":"lookup"}`,
	)
	f := setup(t, supportGraph(), "greet", nil, llm, runtime.WithLifecycleHooks(hooks))

	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)
	_, err = f.engine.Turn(context.Background(), "s1", "hi")
	require.NoError(t, err)
	require.NoError(t, f.engine.End(context.Background(), "s1"))

	assert.Equal(t, []domain.EventType{
		domain.EventStepEnter,
		domain.EventValidationError,
		domain.EventDecision, domain.EventToolCall, domain.EventToolReturn,
		domain.EventDecision, domain.EventStepLeave, domain.EventStepEnter,
		domain.EventSessionEnd,
	}, events)

	_, err = f.engine.Session(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngine_Schema(t *testing.T) {
	f := setup(t, supportGraph(), "greet", nil, newScript())

	sc, err := f.engine.Schema("bye")
	require.NoError(t, err)
	assert.Equal(t, []domain.Action{domain.ActionAsk, domain.ActionAnswer, domain.ActionEnd}, sc.Actions)

	_, err = f.engine.Schema("missing")
	var unknown *domain.UnknownStepError
	assert.ErrorAs(t, err, &unknown)
}

func TestEngine_StructuredAnswer(t *testing.T) {
	steps := []domain.Step{{
		ID: "quote",
		AnswerModel: []domain.Parameter{
			{Key: "amount", Type: "int", Required: true},
			{Key: "currency", Type: "string", Default: "EUR"},
		},
	}}
	llm := newScript(`{"action":"ANSWER","response":{"amount":12}}`)
	f := setup(t, steps, "quote", nil, llm)
	_, err := f.engine.Start(context.Background(), "s1", false)
	require.NoError(t, err)

	res, err := f.engine.Turn(context.Background(), "s1", "price?")
	require.NoError(t, err)
	last := res.Session.History[len(res.Session.History)-1]
	assert.Equal(t, map[string]any{"amount": 12, "currency": "EUR"}, last.Data)
	assert.JSONEq(t, `{"amount":12,"currency":"EUR"}`, last.Content)
}

// gate blocks every Generate call until release is closed and answers with
// an ASK that quotes the latest history entry.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) Generate(ctx context.Context, req *ports.GenerateRequest) ([]byte, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	last := req.History[len(req.History)-1].Content
	return []byte(fmt.Sprintf(`{"action":"ASK","response":%q}`, "re: "+last)), nil
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func setupPolicy(t *testing.T, policy session.OverlapPolicy, llm ports.LLM) fixture {
	t.Helper()
	reg := registry(t)
	g, err := graph.New(supportGraph(), "greet", graph.WithTools(reg))
	require.NoError(t, err)

	store := memory.NewStore()
	manager := session.NewManager(store, session.WithOverlapPolicy(policy))
	return fixture{engine: runtime.NewEngine(g, tools.NewInvoker(reg), llm, manager), store: store}
}

func TestEngine_ReadsDuringTurn(t *testing.T) {
	for _, policy := range []session.OverlapPolicy{session.OverlapReject, session.OverlapQueue} {
		t.Run(string(policy), func(t *testing.T) {
			ctx := context.Background()
			llm := newGate()
			defer llm.open()
			f := setupPolicy(t, policy, llm)
			_, err := f.engine.Start(ctx, "s1", false)
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() {
				_, err := f.engine.Turn(ctx, "s1", "hi")
				done <- err
			}()
			<-llm.entered

			readCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			history, err := f.engine.History(readCtx, "s1")
			require.NoError(t, err)
			assert.Empty(t, history, "reads see the last committed state")

			s, err := f.engine.Session(readCtx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "greet", s.CurrentStepID)

			llm.open()
			require.NoError(t, <-done)

			history, err = f.engine.History(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, history, 2)
		})
	}
}

func TestEngine_ConcurrentTurnsQueue(t *testing.T) {
	ctx := context.Background()
	llm := newGate()
	f := setupPolicy(t, session.OverlapQueue, llm)
	_, err := f.engine.Start(ctx, "s1", false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, input := range []string{"one", "two"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Turn(ctx, "s1", input)
			errs <- err
		}()
	}
	<-llm.entered
	select {
	case <-llm.entered:
		t.Fatal("second turn reached the LLM while the first was running")
	case <-time.After(50 * time.Millisecond):
	}
	llm.open()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := f.engine.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	inputs := make([]string, 0, 2)
	for i := 0; i < len(history); i += 2 {
		user, reply := history[i], history[i+1]
		assert.Equal(t, domain.RoleUser, user.Role)
		assert.Equal(t, domain.RoleAssistant, reply.Role)
		assert.Equal(t, "re: "+user.Content, reply.Content)
		inputs = append(inputs, user.Content)
	}
	assert.ElementsMatch(t, []string{"one", "two"}, inputs)
}

func TestEngine_ConcurrentTurnsReject(t *testing.T) {
	ctx := context.Background()
	llm := newGate()
	defer llm.open()
	f := setupPolicy(t, session.OverlapReject, llm)
	_, err := f.engine.Start(ctx, "s1", false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Turn(ctx, "s1", "one")
		done <- err
	}()
	<-llm.entered

	_, err = f.engine.Turn(ctx, "s1", "two")
	assert.ErrorIs(t, err, domain.ErrTurnInProgress)

	llm.open()
	require.NoError(t, <-done)

	history, err := f.engine.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "re: one", history[1].Content)
}
