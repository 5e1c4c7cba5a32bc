package waypoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/internal/runtime"
	"github.com/aretw0/waypoint/pkg/decision"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/graph"
	"github.com/aretw0/waypoint/pkg/loader"
	"github.com/aretw0/waypoint/pkg/ports"
	"github.com/aretw0/waypoint/pkg/session"
	"github.com/aretw0/waypoint/pkg/tools"
)

// TurnResult is the outcome of a turn.
type TurnResult = runtime.TurnResult

// Agent is the high-level entry point of the library.
// It wires a compiled definition to an LLM, a session store and the turn engine.
type Agent struct {
	Name string

	engine   *runtime.Engine
	initiate bool
	store    ports.SessionStore
	closers  []io.Closer
	newID    func() string
	logger   *slog.Logger
}

// Option defines a functional option for configuring the Agent.
type Option func(*settings)

type settings struct {
	logger       *slog.Logger
	hooks        domain.LifecycleHooks
	store        ports.SessionStore
	locker       ports.DistributedLocker
	llm          ports.LLM
	newID        func() string
	capabilities []loader.Option
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks. Repeated calls add up.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *settings) {
		s.hooks = s.hooks.Merge(hooks)
	}
}

// WithStore replaces the store selected by the runtime configuration.
func WithStore(store ports.SessionStore) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithLocker serializes turns across processes sharing a store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(s *settings) {
		s.locker = locker
	}
}

// WithLLM replaces the LLM selected by the runtime configuration.
func WithLLM(llm ports.LLM) Option {
	return func(s *settings) {
		s.llm = llm
	}
}

// WithCapability binds a Go function to a tool declared without http or process settings.
// It only applies to Load.
func WithCapability(name string, fn tools.Capability) Option {
	return func(s *settings) {
		s.capabilities = append(s.capabilities, loader.WithCapability(name, fn))
	}
}

// WithIDGenerator replaces the UUID session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *settings) {
		s.newID = fn
	}
}

// Load reads the agent definition at path and builds the agent.
func Load(ctx context.Context, path string, opts ...Option) (*Agent, error) {
	s := apply(opts)
	b, err := loader.Load(path, s.capabilities...)
	if err != nil {
		return nil, err
	}
	return build(ctx, b, s)
}

// New builds an agent from a compiled definition.
func New(ctx context.Context, b *loader.Bundle, opts ...Option) (*Agent, error) {
	return build(ctx, b, apply(opts))
}

func apply(opts []Option) *settings {
	s := &settings{newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	return s
}

func build(ctx context.Context, b *loader.Bundle, s *settings) (*Agent, error) {
	cfg := b.Config
	logger := s.logger
	if b.Name != "" {
		logger = logger.With("agent", b.Name)
	}
	a := &Agent{Name: b.Name, initiate: b.Initiate, newID: s.newID, logger: logger}

	llm := s.llm
	if llm == nil {
		var err error
		if llm, err = openLLM(cfg, b.BaseDir); err != nil {
			return nil, err
		}
	}

	store, locker := s.store, s.locker
	if store == nil {
		opened, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = opened.store
		if locker == nil {
			locker = opened.locker
		}
		if opened.closer != nil {
			a.closers = append(a.closers, opened.closer)
		}
	}
	store, err := wrapStore(store, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = store

	managerOpts := []session.Option{
		session.WithOverlapPolicy(session.OverlapPolicy(cfg.Overlap)),
		session.WithLogger(logger),
	}
	if locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(locker))
	}

	invoker := tools.NewInvoker(b.Tools, tools.WithTimeout(cfg.ToolTimeout), tools.WithLogger(logger))
	a.engine = runtime.NewEngine(b.Graph, invoker, llm, session.NewManager(store, managerOpts...),
		runtime.WithLogger(logger),
		runtime.WithLifecycleHooks(s.hooks),
		runtime.WithPersona(b.Persona),
		runtime.WithMaxErrors(cfg.MaxErrors),
		runtime.WithDefaultMaxIter(cfg.DefaultMaxIter),
		runtime.WithMaxChain(cfg.MaxChain),
		runtime.WithFallback(runtime.FallbackPolicy(cfg.Fallback), cfg.FallbackMessage),
		runtime.WithHistoryWindow(runtime.HistoryWindow(cfg.HistoryWindow)),
		runtime.WithLLMTimeout(cfg.LLMTimeout),
	)
	return a, nil
}

// SessionOption adjusts how a single session is started.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	initiate bool
}

// Initiate overrides the definition's initiate setting for one session.
// With true the agent produces the first message before any user input.
func Initiate(v bool) SessionOption {
	return func(c *sessionConfig) { c.initiate = v }
}

// CreateSession starts a session under a new id at the start step.
// If the definition sets initiate, the agent speaks first unless Initiate says otherwise.
func (a *Agent) CreateSession(ctx context.Context, opts ...SessionOption) (*TurnResult, error) {
	return a.StartSession(ctx, a.newID(), opts...)
}

// StartSession starts a session under a caller-chosen id.
func (a *Agent) StartSession(ctx context.Context, sessionID string, opts ...SessionOption) (*TurnResult, error) {
	c := sessionConfig{initiate: a.initiate}
	for _, opt := range opts {
		opt(&c)
	}
	return a.engine.Start(ctx, sessionID, c.initiate)
}

// Initiates reports whether sessions start with an agent message by default.
func (a *Agent) Initiates() bool {
	return a.initiate
}

// Turn handles one user message. Input goes through SanitizeInput first.
func (a *Agent) Turn(ctx context.Context, sessionID, input string) (*TurnResult, error) {
	clean, err := SanitizeInput(input)
	if err != nil {
		return nil, err
	}
	return a.engine.Turn(ctx, sessionID, clean)
}

// Session returns the committed state of a session.
func (a *Agent) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return a.engine.Session(ctx, sessionID)
}

// History returns the ordered history of a session.
func (a *Agent) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	return a.engine.History(ctx, sessionID)
}

// EndSession destroys a session.
func (a *Agent) EndSession(ctx context.Context, sessionID string) error {
	return a.engine.End(ctx, sessionID)
}

// Sessions lists stored session ids.
func (a *Agent) Sessions(ctx context.Context) ([]string, error) {
	return a.engine.Sessions(ctx)
}

// Schema returns the decision contract of a step.
func (a *Agent) Schema(stepID string) (*decision.Schema, error) {
	return a.engine.Schema(stepID)
}

// Graph returns the step graph.
func (a *Agent) Graph() *graph.Graph {
	return a.engine.Graph()
}

// Store returns the session store, middleware included.
func (a *Agent) Store() ports.SessionStore {
	return a.store
}

// Close releases the connections opened for the configured store.
func (a *Agent) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close agent: %w", err)
	}
	return nil
}
