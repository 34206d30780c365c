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

// GetOutputTool reads an explicit line range from a tracked command's
// retained output, live or finished.
type GetOutputTool struct {
	manager *command.Manager
	logger  *slog.Logger
}

// NewGetOutputTool creates a get_output tool backed by the given Manager.
func NewGetOutputTool(manager *command.Manager, logger *slog.Logger) *GetOutputTool {
	return &GetOutputTool{manager: manager, logger: logger}
}

func (t *GetOutputTool) Name() string { return "get_output" }
func (t *GetOutputTool) Description() string {
	return "Read a range of output lines from a tracked command. Lines are 0-indexed; at most 500 lines per call."
}

func (t *GetOutputTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Command id returned by start_command"},
				"start_line": {"type": "integer", "description": "First line to return, 0-indexed (optional, default 0)"},
				"end_line": {"type": "integer", "description": "Line to stop before, exclusive (optional, 0 = as many as the per-call cap allows)"}
			},
			"required": ["id"]
		}`),
	}
}

type getOutputParams struct {
	ID        string `json:"id"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (t *GetOutputTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_output", t.logger, params,
		func(_ context.Context, span trace.Span, p getOutputParams) (any, error) {
			if err := ValidateAll(
				RequireField("id", p.ID),
				ValidateNonNegative("start_line", p.StartLine),
			); err != nil {
				return nil, err
			}
			if p.EndLine > 0 && p.EndLine <= p.StartLine {
				return ErrResult("end_line must be greater than start_line")
			}
			span.SetAttributes(
				tracer.StringAttr("command.id", p.ID),
				tracer.IntAttr("output.start_line", p.StartLine),
			)

			return t.manager.Output(p.ID, p.StartLine, p.EndLine)
		},
	)
}
