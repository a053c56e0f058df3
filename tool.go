package cortex

import (
	"context"
	"fmt"
	"strings"
)

// Tool is a named capability an agent can invoke: a description used in
// prompts and a callable taking a single string argument. Tools validate
// their own inputs and return error text as their result rather than
// failing the agent loop; a non-nil error is reserved for infrastructure
// failures the loop should surface as an observation.
type Tool struct {
	Name        string
	Description string
	Invoke      func(ctx context.Context, input string) (string, error)
}

// ToolRegistry is a string-keyed set of tools. Registration order is
// preserved for prompt rendering.
type ToolRegistry struct {
	order []string
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are rejected at build time so an
// agent's prompt never lists two tools with the same name.
func (r *ToolRegistry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.Invoke == nil {
		return fmt.Errorf("tool %q has no Invoke function", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister is Register for static tool sets assembled at startup.
func (r *ToolRegistry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the named tool.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *ToolRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// Describe renders the "- name: description" list used in agent prompts.
func (r *ToolRegistry) Describe() string {
	if len(r.order) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	for i, name := range r.order {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", name, r.tools[name].Description)
	}
	return b.String()
}

// Len reports the number of registered tools.
func (r *ToolRegistry) Len() int { return len(r.order) }
