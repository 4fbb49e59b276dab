// ABOUTME: Capability registry mapping tool names to schemas and handlers.
// ABOUTME: Validates tool arguments against typed structural schemas.
package registry

import (
	"context"
	"fmt"

	"pgmcp/internal/protocol"
)

// Property describes one schema property.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the structural contract for a tool's arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Descriptor describes one capability for tools/list.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

// Handler executes one capability against already-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	descriptor Descriptor
	handler    Handler
}

// Registry is the immutable capability table. Build it once at
// startup; it is safe for concurrent reads afterwards.
type Registry struct {
	entries []entry
	byName  map[string]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a capability. Registration order is preserved in
// Descriptors. Duplicate names panic: the table is static and a
// duplicate is a programming error.
func (r *Registry) Register(d Descriptor, h Handler) {
	if _, exists := r.byName[d.Name]; exists {
		panic(fmt.Sprintf("registry: duplicate tool %q", d.Name))
	}
	r.byName[d.Name] = len(r.entries)
	r.entries = append(r.entries, entry{descriptor: d, handler: h})
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.descriptor
	}
	return out
}

// Lookup returns the descriptor and handler for a tool name.
func (r *Registry) Lookup(name string) (Descriptor, Handler, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, nil, false
	}
	return r.entries[i].descriptor, r.entries[i].handler, true
}

// Validate checks args against the schema: every required key must be
// present, and every declared property that is present must have the
// declared JSON type. Unknown keys are tolerated.
func (s Schema) Validate(args map[string]any) error {
	for _, key := range s.Required {
		if _, ok := args[key]; !ok {
			return protocol.Errorf(protocol.CodeInvalidParams,
				"missing required argument %q", key)
		}
	}
	for key, prop := range s.Properties {
		value, ok := args[key]
		if !ok {
			continue
		}
		if !typeMatches(prop.Type, value) {
			return protocol.Errorf(protocol.CodeInvalidParams,
				"argument %q must be of type %s", key, prop.Type)
		}
	}
	return nil
}

func typeMatches(schemaType string, v any) bool {
	switch schemaType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "null":
		return v == nil
	}
	// Unknown schema type: accept rather than reject.
	return true
}
