package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"shellherd/internal/domain"
	"shellherd/internal/infra/tracer"
	"shellherd/internal/usecase/command"
)

// WaitCommandTool blocks until a tracked command finishes and returns
// its result. Waiting on a finished command returns the stored result
// immediately, so the tool may be called repeatedly.
type WaitCommandTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewWaitCommandTool creates a wait_command tool backed by the given Manager.
func NewWaitCommandTool(manager *command.Manager, logger *slog.Logger) *WaitCommandTool {
	return &WaitCommandTool{manager: manager, logger: logger}
}

func (t *WaitCommandTool) Name() string { return "wait_command" }
func (t *WaitCommandTool) Description() string {
	return "Wait for a background command to finish and return its result. An optional timeout bounds the wait itself, not the command."
}

func (t *WaitCommandTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Command id returned by start_command"},
				"timeout_seconds": {"type": "integer", "description": "Give up waiting after this many seconds (optional, 0 = wait indefinitely)"}
			},
			"required": ["id"]
		}`),
	}
}

type waitCommandParams struct {
	ID             string `json:"id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (t *WaitCommandTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.wait_command", t.logger, params,
		func(ctx context.Context, span trace.Span, p waitCommandParams) (any, error) {
			if err := ValidateAll(
				RequireField("id", p.ID),
				ValidateNonNegative("timeout_seconds", p.TimeoutSeconds),
			); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("command.id", p.ID))

			timeout := time.Duration(p.TimeoutSeconds) * time.Second
			return t.manager.Wait(ctx, p.ID, timeout)
		},
	)
}
