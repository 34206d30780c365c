package tool

import (
	"fmt"
	"log/slog"
	"sync"

	"shellherd/internal/domain"
)

// Registry is the set of tools the server exposes, keyed by tool name.
// Registration happens at startup; lookups run for every tool call.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]domain.Tool
}

// NewRegistry returns an empty registry. A non-nil logger turns on schema
// validation wrapping for registered tools; pass nil to register tools
// exactly as given.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		tools:  make(map[string]domain.Tool),
	}
}

// Register adds a tool under its self-reported name. Names are unique,
// so registering the same name twice is an error.
//
// With validation enabled the tool is wrapped so its input schema is
// enforced before Execute runs. A schema that fails to compile downgrades
// that one tool to unvalidated with a warning rather than failing
// registration.
func (r *Registry) Register(t domain.Tool) error {
	name := t.Name()
	t = r.withValidation(name, t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("duplicate tool name %q", name)
	}
	r.tools[name] = t
	return nil
}

// withValidation wraps t with schema enforcement when the registry has a
// logger. Compilation happens here, outside the registry lock.
func (r *Registry) withValidation(name string, t domain.Tool) domain.Tool {
	if r.logger == nil {
		return t
	}
	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool",
			"tool", name, "error", err)
		return t
	}
	return wrapped
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns every registered tool in unspecified order.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Schemas returns the schema of every registered tool.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, len(tools))
	for i, t := range tools {
		schemas[i] = t.Schema()
	}
	return schemas
}
