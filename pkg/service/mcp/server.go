package mcp

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/genai"
)

// Server exposes the tools of a registry over the Model Context Protocol.
// Tools are called directly; the physics gate of the chat orchestrator does
// not apply here.
type Server struct {
	server *mcp.Server
}

// NewServer registers every function declaration of registry as an MCP tool
func NewServer(registry *tool.Registry, version string) *Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "kappa",
		Version: version,
	}, nil)

	for _, decl := range registry.Declarations() {
		server.AddTool(&mcp.Tool{
			Name:        decl.Name,
			Description: decl.Description,
			InputSchema: tool.JSONSchema(decl.Parameters),
		}, handler(registry))
	}

	return &Server{server: server}
}

func handler(registry *tool.Registry) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := logging.Component(ctx, "mcp")

		args := map[string]any{}
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(goerr.Wrap(err, "arguments must be a JSON object")), nil
			}
		}

		resp, err := registry.Execute(ctx, genai.FunctionCall{Name: req.Params.Name, Args: args})
		if err != nil {
			logger.Warn("tool call failed", "tool", req.Params.Name, "error", err)
			return errorResult(err), nil
		}

		data, err := json.Marshal(resp.Response)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tool response", goerr.V("tool", req.Params.Name))
		}

		logger.Debug("tool called", "tool", req.Params.Name, "args", args)
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
			StructuredContent: resp.Response,
			IsError:           tool.ErrorKind(resp.Response) != "",
		}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

// Run serves over stdin/stdout until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Connect serves a single session over transport
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.server.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect mcp session")
	}
	return session, nil
}
