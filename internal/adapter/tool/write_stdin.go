package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"shellherd/internal/domain"
	"shellherd/internal/infra/tracer"
	"shellherd/internal/usecase/command"
)

// WriteStdinTool feeds input to a running command's stdin. The pipe
// stays open across writes until close is requested or the command
// exits.
type WriteStdinTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewWriteStdinTool creates a write_stdin tool backed by the given Manager.
func NewWriteStdinTool(manager *command.Manager, logger *slog.Logger) *WriteStdinTool {
	return &WriteStdinTool{manager: manager, logger: logger}
}

func (t *WriteStdinTool) Name() string { return "write_stdin" }
func (t *WriteStdinTool) Description() string {
	return "Write input to a running command's stdin. Set close to signal end of input."
}

func (t *WriteStdinTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Command id returned by start_command"},
				"input": {"type": "string", "description": "Bytes to write, typically ending in a newline (optional when close is true)"},
				"close": {"type": "boolean", "description": "Close stdin after writing (optional)"}
			},
			"required": ["id"]
		}`),
	}
}

type writeStdinParams struct {
	ID    string `json:"id"`
	Input string `json:"input"`
	Close bool   `json:"close"`
}

func (t *WriteStdinTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.write_stdin", t.logger, params,
		func(_ context.Context, span trace.Span, p writeStdinParams) (any, error) {
			if err := RequireField("id", p.ID); err != nil {
				return nil, err
			}
			if p.Input == "" && !p.Close {
				return ErrResult("nothing to do: provide input, close, or both")
			}
			span.SetAttributes(tracer.StringAttr("command.id", p.ID))

			if err := t.manager.WriteStdin(p.ID, p.Input, p.Close); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		},
	)
}
