package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"shellherd/internal/domain"
	"shellherd/internal/usecase/command"
)

// ListCommandsTool lists every tracked command in start order.
type ListCommandsTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewListCommandsTool creates a list_commands tool backed by the given Manager.
func NewListCommandsTool(manager *command.Manager, logger *slog.Logger) *ListCommandsTool {
	return &ListCommandsTool{manager: manager, logger: logger}
}

func (t *ListCommandsTool) Name() string { return "list_commands" }
func (t *ListCommandsTool) Description() string {
	return "List all tracked commands, running and finished, in the order they were started."
}

func (t *ListCommandsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

type listCommandsParams struct{}

func (t *ListCommandsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.list_commands", t.logger, params,
		func(_ context.Context, _ trace.Span, _ listCommandsParams) (any, error) {
			return t.manager.List(), nil
		},
	)
}
