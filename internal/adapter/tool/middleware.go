package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"shellherd/internal/domain"
	"shellherd/internal/infra/tracer"
)

// Execute runs one tool call end to end: decode params, open a span, run
// the handler, and shape whatever comes back into a ToolResult.
//
// Handlers may return:
//   - *domain.ToolResult: passed through untouched
//   - string: plain-text success
//   - any other value: marshaled as indented JSON
//   - an error: converted to an error result, flagged retryable when the
//     failure looks transient
func Execute[P any](
	ctx context.Context,
	name string,
	logger *slog.Logger,
	raw json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, name,
		trace.WithAttributes(tracer.StringAttr("tool.name", name)),
	)
	defer span.End()

	var params P
	if err := json.Unmarshal(raw, &params); err != nil {
		tracer.RecordError(span, err)
		return ErrResult("invalid params: %v", err)
	}

	out, err := handler(ctx, span, params)
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn(name+" failed", "error", err)
		return failureResult(err), nil
	}
	return renderResult(span, out)
}

// failureResult shapes a handler error, adding a retry hint for failures a
// caller could reasonably try again.
func failureResult(err error) *domain.ToolResult {
	res := &domain.ToolResult{IsError: true, Content: err.Error()}
	if isTransientToolError(err) {
		res.IsRetryable = true
		res.Content += " (transient error, may succeed on retry)"
	}
	return res
}

// renderResult shapes a successful handler return into a ToolResult.
func renderResult(span trace.Span, out any) (*domain.ToolResult, error) {
	switch v := out.(type) {
	case *domain.ToolResult:
		if v.IsError {
			tracer.RecordError(span, errors.New(v.Content))
			return v, nil
		}
		tracer.SetOK(span)
		return v, nil
	case string:
		tracer.SetOK(span)
		return &domain.ToolResult{Content: v}, nil
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		tracer.RecordError(span, err)
		return ErrResult("failed to format response: %v", err)
	}
	tracer.SetOK(span)
	return &domain.ToolResult{Content: string(data)}, nil
}

// ErrResult builds an error ToolResult for validation failures the caller
// should see without a warning log entry.
func ErrResult(format string, args ...any) (*domain.ToolResult, error) {
	return &domain.ToolResult{
		IsError: true,
		Content: fmt.Sprintf(format, args...),
	}, nil
}
