package mcp

import (
	"context"
	"io"
	"log/slog"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nugget/codecraft/internal/tools"
)

// ServerName is the name reported in the MCP initialize handshake.
const ServerName = "codecraft"

const instructions = `CodeCraft exposes tools for working with one code repository.
Use search_codebase to find relevant code by meaning, read_file to view a
file, list_files to browse directories and modify_file to change a file.
Modifications may be disabled by configuration; every modification backs
up the original file first.`

// Server exposes a tool registry over MCP.
type Server struct {
	registry *tools.Registry
	mcp      *server.MCPServer
	logger   *slog.Logger
}

// NewServer creates a server offering every tool in registry.
func NewServer(registry *tools.Registry, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: registry,
		logger:   logger.With("component", "mcp"),
	}
	s.mcp = server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, t := range registry.Tools() {
		s.mcp.AddTool(Definition(t), s.handler(t.Name))
		s.logger.Debug("tool exposed", "tool", t.Name)
	}
	return s
}

// Serve reads JSON-RPC requests from in and writes responses to out
// until in closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("serving MCP on stdio", "tools", len(s.registry.Names()))
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Definition converts a registry tool to its MCP description.
func Definition(t *tools.Tool) mcpgo.Tool {
	opts := []mcpgo.ToolOption{mcpgo.WithDescription(t.Description)}
	for _, p := range t.Params {
		opts = append(opts, property(p))
	}
	return mcpgo.NewTool(t.Name, opts...)
}

func property(p tools.Param) mcpgo.ToolOption {
	popts := []mcpgo.PropertyOption{mcpgo.Description(p.Description)}
	if p.Required {
		popts = append(popts, mcpgo.Required())
	}

	switch p.Type {
	case "integer", "number":
		if d, ok := numberDefault(p.Default); ok {
			popts = append(popts, mcpgo.DefaultNumber(d))
		}
		return mcpgo.WithNumber(p.Name, popts...)
	case "boolean":
		if d, ok := p.Default.(bool); ok {
			popts = append(popts, mcpgo.DefaultBool(d))
		}
		return mcpgo.WithBoolean(p.Name, popts...)
	default:
		if d, ok := p.Default.(string); ok {
			popts = append(popts, mcpgo.DefaultString(d))
		}
		return mcpgo.WithString(p.Name, popts...)
	}
}

func numberDefault(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// handler runs the named tool through the registry. Tool failures are
// reported as error results, not protocol errors.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		res := s.registry.Execute(ctx, name, req.GetArguments())
		if res.Err != nil {
			s.logger.Warn("tool call failed", "tool", name, "error", res.Err)
			return mcpgo.NewToolResultError(res.Output), nil
		}
		s.logger.Debug("tool call", "tool", name, "output_len", len(res.Output))
		return mcpgo.NewToolResultText(res.Output), nil
	}
}
