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

// KillCommandTool terminates a running command's process tree. killed
// comes back false when the command finished on its own just before the
// signal landed; killing an already-finished command is an error.
type KillCommandTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewKillCommandTool creates a kill_command tool backed by the given Manager.
func NewKillCommandTool(manager *command.Manager, logger *slog.Logger) *KillCommandTool {
	return &KillCommandTool{manager: manager, logger: logger}
}

func (t *KillCommandTool) Name() string { return "kill_command" }
func (t *KillCommandTool) Description() string {
	return "Terminate a running command and its child processes."
}

func (t *KillCommandTool) Schema() domain.ToolSchema {
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

type killCommandParams struct {
	ID string `json:"id"`
}

func (t *KillCommandTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.kill_command", t.logger, params,
		func(ctx context.Context, span trace.Span, p killCommandParams) (any, error) {
			if err := RequireField("id", p.ID); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("command.id", p.ID))

			killed, err := t.manager.Kill(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			return map[string]bool{"killed": killed}, nil
		},
	)
}
