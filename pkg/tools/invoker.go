package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/waypoint/internal/logging"
	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/schema"
)

// Invoker validates arguments and executes registered tools.
// It never touches session state; recording the result is the caller's job.
type Invoker struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithTimeout bounds each capability call. Zero disables the bound.
func WithTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		i.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		i.logger = l
	}
}

// NewInvoker creates an invoker over the registry.
func NewInvoker(r *Registry, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		registry: r,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke validates kwargs against the tool's parameters and runs its capability.
// Argument problems yield a ToolError of kind InvalidArgs without running anything.
// Capability errors, panics and timeouts yield kind ExecutionFailed.
func (i *Invoker) Invoke(ctx context.Context, name string, kwargs map[string]any) (any, error) {
	e, ok := i.registry.get(name)
	if !ok {
		return nil, &domain.ToolError{Tool: name, Kind: domain.ToolInvalidArgs, Cause: &domain.UnknownToolError{Tool: name}}
	}

	args, err := schema.Check(e.fields, kwargs)
	if err != nil {
		return nil, &domain.ToolError{Tool: name, Kind: domain.ToolInvalidArgs, Cause: err}
	}

	callCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := i.call(callCtx, e.fn, args)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", i.timeout, err)
		}
		i.logger.Debug("tool failed", "tool", name, "err", err, "duration", time.Since(start))
		return nil, &domain.ToolError{Tool: name, Kind: domain.ToolExecutionFailed, Cause: err}
	}
	i.logger.Debug("tool executed", "tool", name, "duration", time.Since(start))
	return result, nil
}

// call runs fn on its own goroutine so a capability ignoring ctx cannot hang the turn.
func (i *Invoker) call(ctx context.Context, fn Capability, args map[string]any) (any, error) {
	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		v, err := fn(ctx, args)
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fields converts a parameter list into schema fields.
// It fails on an empty or duplicate key, an unknown type or a default of the wrong type.
func Fields(params []domain.Parameter) ([]schema.Field, error) {
	fields := make([]schema.Field, 0, len(params))
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Key == "" {
			return nil, fmt.Errorf("parameter with empty key")
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("duplicate parameter %q", p.Key)
		}
		seen[p.Key] = true

		t, err := schema.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Key, err)
		}
		if p.Default != nil {
			if err := t.Validate(p.Default); err != nil {
				return nil, fmt.Errorf("default of %q: %w", p.Key, err)
			}
		}
		fields = append(fields, schema.Field{Key: p.Key, Type: t, Required: p.Required, Default: p.Default})
	}
	return fields, nil
}
