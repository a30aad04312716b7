package tooling

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"hearth/internal/domain"
)

// Sentinel errors for registry operations.
var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrNilTool       = errors.New("tool must not be nil")
)

// entry binds a registered tool to the module that owns it. The registry
// holds only this lookup reference; the module keeps ownership of the tool.
type entry struct {
	moduleID string
	tool     SchemaTool
}

// Registry aggregates tools from all Ready capability modules into one
// namespace. It is read concurrently by many dispatches and mutated only by
// module registration/unregistration; writers hold the lock just for the map
// mutation, never for the duration of a tool execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry returns an empty, ready-to-use registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register inserts all of a module's tools as one atomic unit. If any name
// collides with an existing entry (or repeats within the batch), nothing is
// inserted and ErrDuplicateTool is returned — a partially registered module
// is never visible.
func (r *Registry) Register(moduleID string, tools []SchemaTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if t == nil {
			return fmt.Errorf("module %q: %w", moduleID, ErrNilTool)
		}
		name := t.Name()
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("module %q: tool %q: %w", moduleID, name, ErrDuplicateTool)
		}
		if seen[name] {
			return fmt.Errorf("module %q: tool %q: %w", moduleID, name, ErrDuplicateTool)
		}
		seen[name] = true
	}
	for _, t := range tools {
		r.tools[t.Name()] = entry{moduleID: moduleID, tool: t}
	}
	return nil
}

// Unregister removes all entries owned by the given module. Idempotent: a
// module that was never registered is a no-op.
func (r *Registry) Unregister(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.tools {
		if e.moduleID == moduleID {
			delete(r.tools, name)
		}
	}
}

// Resolve returns the tool with the given name or ErrUnknownTool.
func (r *Registry) Resolve(name string) (SchemaTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return e.tool, nil
}

// Owner returns the id of the module that registered the named tool.
func (r *Registry) Owner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.moduleID, ok
}

// Definitions returns the public metadata for every registered tool, sorted
// by name so the tool listing sent to a backend is deterministic.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, domain.ToolDefinition{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			InputSchema: []byte(e.tool.Definition()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
