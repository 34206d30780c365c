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

// StartCommandTool launches a shell command in the background. The
// returned id is the handle for get_status, wait_command, kill_command,
// get_output and write_stdin.
type StartCommandTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewStartCommandTool creates a start_command tool backed by the given Manager.
func NewStartCommandTool(manager *command.Manager, logger *slog.Logger) *StartCommandTool {
	return &StartCommandTool{manager: manager, logger: logger}
}

func (t *StartCommandTool) Name() string { return "start_command" }
func (t *StartCommandTool) Description() string {
	return "Start a shell command in the background and return immediately with its id. Poll with get_status or block with wait_command."
}

func (t *StartCommandTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command line to execute"},
				"id": {"type": "string", "description": "Identifier for the command (optional, generated when omitted; must not collide with a tracked command)"},
				"working_directory": {"type": "string", "description": "Working directory (optional, defaults to the server's working directory)"},
				"timeout_seconds": {"type": "integer", "description": "Kill the command after this many seconds (optional, 0 = no limit)"},
				"max_output_lines": {"type": "integer", "description": "Head/tail window size for captured output (optional)"}
			},
			"required": ["command"]
		}`),
	}
}

type startCommandParams struct {
	Command          string `json:"command"`
	ID               string `json:"id"`
	WorkingDirectory string `json:"working_directory"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	MaxOutputLines   int    `json:"max_output_lines"`
}

func (t *StartCommandTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.start_command", t.logger, params,
		func(ctx context.Context, span trace.Span, p startCommandParams) (any, error) {
			if err := ValidateAll(
				RequireField("command", p.Command),
				ValidateNonNegative("timeout_seconds", p.TimeoutSeconds),
				ValidateNonNegative("max_output_lines", p.MaxOutputLines),
			); err != nil {
				return nil, err
			}

			session, err := t.manager.Start(ctx, domain.CommandSpec{
				ID:             p.ID,
				Command:        p.Command,
				WorkDir:        p.WorkingDirectory,
				TimeoutSeconds: p.TimeoutSeconds,
				MaxOutputLines: p.MaxOutputLines,
			})
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("command.id", session.ID))

			return map[string]any{
				"id":     session.ID,
				"status": session.Status,
			}, nil
		},
	)
}
