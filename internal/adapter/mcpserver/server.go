package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"shellherd/internal/domain"
)

const serverName = "shellherd"

const instructions = "Spawn shell commands on the host. Use run_command for quick synchronous " +
	"calls; use start_command plus get_status/wait_command/get_output for anything long-running. " +
	"Commands keep running when you stop polling; kill_command stops them."

// Server exposes domain tools over the Model Context Protocol. Tool
// listing is static for the lifetime of the process.
type Server struct {
	mcp    *server.MCPServer
	logger *slog.Logger
	count  int
}

// New builds an MCP server serving the given tools. Tools are listed in
// name order regardless of registration order.
func New(tools []domain.Tool, version string, logger *slog.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(serverName, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
			server.WithInstructions(instructions),
		),
		logger: logger,
		count:  len(tools),
	}

	sorted := make([]domain.Tool, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	for _, t := range sorted {
		schema := t.Schema()
		s.mcp.AddTool(
			mcp.NewToolWithRawSchema(schema.Name, schema.Description, schema.Parameters),
			s.handlerFor(t),
		)
	}
	return s
}

// Serve runs the server over stdio until ctx is cancelled or stdin
// reaches EOF.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp server listening on stdio", "tools", s.count)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// handlerFor bridges one domain tool into an MCP tool handler.
func (s *Server) handlerFor(t domain.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := t.Execute(ctx, rawArguments(req))
		if err != nil {
			return nil, err
		}
		if result.IsError {
			return mcp.NewToolResultError(result.Content), nil
		}
		return mcp.NewToolResultText(result.Content), nil
	}
}

// rawArguments re-encodes the request arguments as raw JSON for
// domain.Tool.Execute. Calls without arguments become an empty object so
// parameter structs still unmarshal.
func rawArguments(req mcp.CallToolRequest) json.RawMessage {
	empty := json.RawMessage(`{}`)

	switch args := req.Params.Arguments.(type) {
	case nil:
		return empty
	case json.RawMessage:
		if len(args) == 0 || string(args) == "null" {
			return empty
		}
		return args
	default:
		data, err := json.Marshal(args)
		if err != nil {
			return empty
		}
		return data
	}
}
