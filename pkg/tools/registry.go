package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/waypoint/pkg/domain"
	"github.com/aretw0/waypoint/pkg/schema"
)

// Capability defines the signature for a tool implementation.
// It receives a context and validated arguments, and returns a result or error.
type Capability func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	tool   domain.Tool
	fields []schema.Field
	fn     Capability
}

// Registry manages the available tools.
// It is populated at agent build time and only read afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
	order []string
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]entry),
	}
}

// Register adds a tool and its capability to the registry.
// It fails on a duplicate name or an invalid parameter list.
func (r *Registry) Register(tool domain.Tool, fn Capability) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %q: capability is nil", tool.Name)
	}
	fields, err := Fields(tool.Parameters)
	if err != nil {
		return fmt.Errorf("tool %q: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[tool.Name]; dup {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = entry{tool: tool, fields: fields, fn: fn}
	r.order = append(r.order, tool.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tool domain.Tool, fn Capability) {
	if err := r.Register(tool, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the definition of a registered tool.
func (r *Registry) Lookup(name string) (domain.Tool, bool) {
	e, ok := r.get(name)
	return e.tool, ok
}

// Tools returns every registered tool in registration order.
func (r *Registry) Tools() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].tool)
	}
	return out
}

func (r *Registry) get(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}
