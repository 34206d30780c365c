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

// RunCommandTool runs a shell command to completion and returns its
// full result. The command is not tracked afterwards; use start_command
// for anything worth polling.
type RunCommandTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewRunCommandTool creates a run_command tool backed by the given Manager.
func NewRunCommandTool(manager *command.Manager, logger *slog.Logger) *RunCommandTool {
	return &RunCommandTool{manager: manager, logger: logger}
}

func (t *RunCommandTool) Name() string { return "run_command" }
func (t *RunCommandTool) Description() string {
	return "Run a shell command and wait for it to finish. Returns exit code, duration, and the head/tail of captured output."
}

func (t *RunCommandTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command line to execute"},
				"working_directory": {"type": "string", "description": "Working directory (optional, defaults to the server's working directory)"},
				"timeout_seconds": {"type": "integer", "description": "Kill the command after this many seconds (optional, 0 = no limit)"},
				"max_output_lines": {"type": "integer", "description": "Head/tail window size for captured output (optional)"}
			},
			"required": ["command"]
		}`),
	}
}

type runCommandParams struct {
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	MaxOutputLines   int    `json:"max_output_lines"`
}

func (t *RunCommandTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.run_command", t.logger, params,
		func(ctx context.Context, span trace.Span, p runCommandParams) (any, error) {
			if err := ValidateAll(
				RequireField("command", p.Command),
				ValidateNonNegative("timeout_seconds", p.TimeoutSeconds),
				ValidateNonNegative("max_output_lines", p.MaxOutputLines),
			); err != nil {
				return nil, err
			}

			res, err := t.manager.Run(ctx, domain.CommandSpec{
				Command:        p.Command,
				WorkDir:        p.WorkingDirectory,
				TimeoutSeconds: p.TimeoutSeconds,
				MaxOutputLines: p.MaxOutputLines,
			})
			if err != nil {
				return nil, err
			}
			if res.ExitCode != nil {
				span.SetAttributes(tracer.IntAttr("command.exit_code", *res.ExitCode))
			}
			return res, nil
		},
	)
}
