package tools

import (
	"sort"
)

// Registry maps tool names to implementations. Registration happens at
// startup; lookups after that are read-only.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. A later registration under the same name
// replaces the earlier one.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Resolve returns the tool registered under name, or a typed NotFound
// error. Unknown names fail here, at lookup time, not at execution.
func (r *Registry) Resolve(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, NotFoundError(name)
	}
	return t, nil
}

// Names returns all registered tool names, sorted. The final-answer
// sentinel is appended so planners always see it as selectable.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools)+1)
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, FinalAnswerToolName)
}

// Definitions returns prompt-facing descriptions of every registered
// tool, sorted by name.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Actions:     t.Actions(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// actionSpec finds a tool's declared action by name.
func actionSpec(t Tool, action string) (ActionSpec, bool) {
	for _, a := range t.Actions() {
		if a.Name == action {
			return a, true
		}
	}
	return ActionSpec{}, false
}
