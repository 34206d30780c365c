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

// GetStatusTool reports the current state of a tracked command.
type GetStatusTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewGetStatusTool creates a get_status tool backed by the given Manager.
func NewGetStatusTool(manager *command.Manager, logger *slog.Logger) *GetStatusTool {
	return &GetStatusTool{manager: manager, logger: logger}
}

func (t *GetStatusTool) Name() string { return "get_status" }
func (t *GetStatusTool) Description() string {
	return "Check a tracked command: state, runtime, exit code once finished, and a preview of recent output while it runs."
}

func (t *GetStatusTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Command id returned by start_command"}
			},
			"required": ["id"]
		}`),
	}
}

type getStatusParams struct {
	ID string `json:"id"`
}

func (t *GetStatusTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_status", t.logger, params,
		func(_ context.Context, span trace.Span, p getStatusParams) (any, error) {
			if err := RequireField("id", p.ID); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("command.id", p.ID))
			return t.manager.Status(p.ID)
		},
	)
}
