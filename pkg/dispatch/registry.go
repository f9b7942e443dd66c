package dispatch

import (
	"fmt"
	"strings"
)

// Registry resolves function names to handlers for one session. It is built
// at session start from configuration and never shared or mutated after:
// sessions must not share dispatch tables.
type Registry struct {
	entries map[string]registryEntry
	order   []string
}

type registryEntry struct {
	def     Definition
	handler Handler
}

// NewRegistry binds definitions to handler implementations by handler kind.
// Unknown kinds and duplicate names are configuration errors.
func NewRegistry(defs []Definition, handlers map[string]Handler) (*Registry, error) {
	r := &Registry{entries: make(map[string]registryEntry, len(defs))}
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, fmt.Errorf("dispatch: function[%d] has no name", i)
		}
		if _, dup := r.entries[name]; dup {
			return nil, fmt.Errorf("dispatch: duplicate function %q", name)
		}
		kind := def.Handler
		if kind == "" {
			kind = name
		}
		h, ok := handlers[kind]
		if !ok {
			return nil, fmt.Errorf("dispatch: function %q references unknown handler %q", name, kind)
		}
		def.Name = name
		r.entries[name] = registryEntry{def: def, handler: h}
		r.order = append(r.order, name)
	}
	return r, nil
}

// Resolve returns the definition and handler for a function name.
func (r *Registry) Resolve(name string) (Definition, Handler, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Definition{}, nil, false
	}
	return e.def, e.handler, true
}

// Schemas returns the tool schemas to declare to the speech agent, in
// configuration order.
func (r *Registry) Schemas() []ToolSchema {
	out := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		def := r.entries[name].def
		out = append(out, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Params,
		})
	}
	return out
}

// Len returns the number of registered functions.
func (r *Registry) Len() int { return len(r.entries) }
