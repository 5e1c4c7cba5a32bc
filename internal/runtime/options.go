package runtime

import (
	"log/slog"
	"time"

	"github.com/aretw0/waypoint/pkg/domain"
)

// Engine defaults.
const (
	DefaultMaxErrors       = 3
	DefaultMaxIter         = 5
	DefaultMaxChain        = 25
	DefaultFallbackMessage = "Sorry, I'm having trouble understanding right now. Let's pick this up again later."
)

// FallbackPolicy decides how a session ends once the consecutive error budget is spent.
type FallbackPolicy string

const (
	// FallbackSilent degrades the session and returns an END decision.
	FallbackSilent FallbackPolicy = "silent"
	// FallbackApology appends an apology message, degrades the session and returns it as an ANSWER.
	FallbackApology FallbackPolicy = "apology"
	// FallbackError degrades the session and makes Turn return domain.ErrMaxErrorsExceeded.
	FallbackError FallbackPolicy = "error"
)

// HistoryWindow decides which history entries are sent to the LLM.
// The memory configuration of the innermost active flow takes precedence.
type HistoryWindow string

const (
	// WindowFull sends the whole history.
	WindowFull HistoryWindow = "full"
	// WindowFlow sends only entries recorded inside the innermost active flow.
	WindowFlow HistoryWindow = "flow"
)

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithPersona sets the persona text handed to the LLM on every call.
func WithPersona(persona string) EngineOption {
	return func(e *Engine) {
		e.persona = persona
	}
}

// WithMaxErrors sets how many consecutive failed decisions are retried.
func WithMaxErrors(n int) EngineOption {
	return func(e *Engine) {
		e.maxErrors = n
	}
}

// WithDefaultMaxIter sets the tool-call bound for steps that do not declare one.
func WithDefaultMaxIter(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.defaultMaxIter = n
		}
	}
}

// WithMaxChain bounds the decisions executed within a single turn.
func WithMaxChain(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxChain = n
		}
	}
}

// WithFallback sets the fallback policy and, for FallbackApology, its message.
func WithFallback(policy FallbackPolicy, message string) EngineOption {
	return func(e *Engine) {
		e.fallback = policy
		if message != "" {
			e.fallbackMessage = message
		}
	}
}

// WithHistoryWindow sets the default history window.
func WithHistoryWindow(w HistoryWindow) EngineOption {
	return func(e *Engine) {
		e.window = w
	}
}

// WithLLMTimeout bounds each LLM call. Zero disables the bound.
func WithLLMTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.llmTimeout = d
	}
}
