// Package tools maps tool identifiers to handler capabilities. The name set
// is closed: dispatch goes through the registry, which rejects unknown
// identifiers instead of falling through.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/draftmill/orchestrator/internal/domain"
)

// Invocation carries everything a handler may read: the run, the planned
// step, and the artifacts accumulated so far. Handlers must not mutate the
// accumulated state; they report additions through Result.
type Invocation struct {
	Run       *domain.Run
	Step      domain.ToolCall
	StepIndex int
	Findings  []domain.Finding
	Sections  []domain.Section
	Charts    []domain.ChartRef
}

// Result is what a handler produced. FollowUp, when set, asks the executor
// to splice one additional step immediately after the current index.
type Result struct {
	Summary  string
	Findings []domain.Finding
	Section  *domain.Section
	Chart    *domain.ChartRef
	FollowUp *domain.ToolCall
}

// Handler executes one tool call.
type Handler func(ctx context.Context, inv Invocation) (*Result, error)

// Registry stores tool handlers keyed by tool name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.ToolName]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.ToolName]Handler),
	}
}

// Register adds a handler for a tool name.
func (r *Registry) Register(name domain.ToolName, h Handler) error {
	if !name.Valid() {
		return fmt.Errorf("unknown tool name %q", name)
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler already registered for %s", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister adds a handler or panics.
func (r *Registry) MustRegister(name domain.ToolName, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Execute runs the handler for the tool name. Unknown or unregistered names
// are an error, never a silent fall-through.
func (r *Registry) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	name := inv.Step.Tool
	if !name.Valid() {
		return nil, fmt.Errorf("unknown tool name %q", name)
	}
	r.mu.RLock()
	h := r.handlers[name]
	r.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("no handler registered for %s", name)
	}
	return h(ctx, inv)
}
