package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// Registry holds the tools available to the coordinator.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a tool under its definition name.
func (r *Registry) Register(t Tool, opts ...Option) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	}

	e := Entry{Def: def, Handler: t.Handle}
	for _, opt := range opts {
		opt(&e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, def.Name)
	}
	r.entries[def.Name] = e
	return nil
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the mcp.Tool schema of every tool, sorted by name.
func (r *Registry) Definitions() []mcp.Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]mcp.Tool, 0, len(names))
	for _, n := range names {
		defs = append(defs, r.entries[n].Def)
	}
	return defs
}

// validateArgs checks that every required argument of def is present.
func validateArgs(def mcp.Tool, args map[string]any) error {
	for _, name := range def.InputSchema.Required {
		v, ok := args[name]
		if !ok || v == nil {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, name)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, name)
		}
	}
	return nil
}
