// Package mcpserver exposes the tool registry to Model Context Protocol hosts.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mediagate/internal/domain"
)

// Executor runs one named command. *dispatch.Dispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (any, *domain.ErrorEnvelope)
}

// Option configures Server.
type Option func(*Server)

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the implementation version reported during initialize.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server adapts the dispatcher to an mcp.Server with one tool per command.
type Server struct {
	exec    Executor
	server  *mcp.Server
	logger  *slog.Logger
	version string
}

// New builds the MCP server and registers every definition as a tool. A
// definition whose schema the SDK rejects is logged and skipped.
func New(exec Executor, tools []domain.ToolDefinition, opts ...Option) *Server {
	s := &Server{exec: exec, logger: slog.Default(), version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	s.server = mcp.NewServer(&mcp.Implementation{Name: "mediagate", Version: s.version}, nil)
	for _, def := range tools {
		if err := s.addTool(def); err != nil {
			s.logger.Warn("tool not exposed over MCP", "tool", def.Name, "error", err)
		}
	}
	return s
}

// addTool converts the SDK's panic on malformed schemas into an error.
func (s *Server) addTool(def domain.ToolDefinition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	s.server.AddTool(&mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: def.InputSchema,
	}, s.handler(def.Name))
	return nil
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if raw := req.Params.Arguments; len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				env := &domain.ErrorEnvelope{
					Kind:    domain.KindValidation,
					Message: "arguments must be a JSON object",
					Command: name,
				}
				return errorResult(env), nil
			}
		}
		result, env := s.exec.Execute(ctx, name, args)
		if env != nil {
			return errorResult(env), nil
		}
		return successResult(result)
	}
}

// successResult returns result as JSON text plus structured content. Non-object
// results are wrapped under "result" because structured content must be an object.
func successResult(result any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	var structured any = result
	if _, isObject := result.(map[string]any); !isObject {
		structured = map[string]any{"result": result}
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: structured,
	}, nil
}

func errorResult(env *domain.ErrorEnvelope) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError:           true,
		Content:           []mcp.Content{&mcp.TextContent{Text: string(env.JSON())}},
		StructuredContent: map[string]any{"error": env},
	}
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.server }

// Run serves one session over transport until ctx is canceled or the peer
// disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp session starting", "transport", fmt.Sprintf("%T", transport))
	err := s.server.Run(ctx, transport)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// RunStdio serves over the process's stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport; every HTTP session
// shares this server's tools.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}
