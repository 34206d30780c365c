package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"shellherd/internal/domain"
)

// validatedTool rejects parameters that violate the tool's input schema
// before Execute runs. Everything else delegates to the embedded tool.
type validatedTool struct {
	domain.Tool
	compiled *jsonschema.Schema
}

// WithSchemaValidation wraps t so malformed or schema-violating parameters
// are turned into error results instead of reaching the tool. A tool
// without a parameter schema is returned unchanged. A schema that fails to
// compile is an error.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	compiled, err := compileParams(t)
	if err != nil {
		return nil, err
	}
	if compiled == nil {
		return t, nil
	}
	return &validatedTool{Tool: t, compiled: compiled}, nil
}

// compileParams compiles the tool's parameter schema, or returns nil when
// the tool declares none.
func compileParams(t domain.Tool) (*jsonschema.Schema, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema for tool %q: %w", t.Name(), err)
	}
	s, err := c.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("schema for tool %q: %w", t.Name(), err)
	}
	return s, nil
}

func (v *validatedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON: %v", err),
		}, nil
	}
	if err := v.compiled.Validate(decoded); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("schema validation failed: %v", err),
		}, nil
	}
	return v.Tool.Execute(ctx, params)
}
