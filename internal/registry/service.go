// Package registry exposes the tool catalogue over MCP and provides the
// client-side adapter the toolbox dispatches meta-tools through.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	sdk "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/mcp"
)

// Meta-tool names. The toolbox intercepts exactly these.
const (
	ToolQueryTools = "query-tools"
	ToolListTools  = "list-tools"
	ToolAddTool    = "add-tool"
	ToolAddServer  = "add-server"
	ToolDeleteTool = "delete-tool"
)

// MetaToolNames returns the service's tool surface in registration order.
func MetaToolNames() []string {
	return []string{ToolQueryTools, ToolListTools, ToolAddTool, ToolAddServer, ToolDeleteTool}
}

const (
	queryToolsSchema = `{"type":"object","properties":{"query":{"type":"string","description":"Natural-language description of the capability needed"},"limit":{"type":"number","description":"Maximum number of tools to return"}},"required":["query"]}`
	listToolsSchema  = `{"type":"object","properties":{}}`
	addToolSchema    = `{"type":"object","properties":{"tool":{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string"},"inputSchema":{"type":"object"}},"required":["name"]}},"required":["tool"]}`
	addServerSchema  = `{"type":"object","properties":{"serverString":{"type":"string","description":"Server spec in the form url::type where type is stdio, sse or ws"},"authToken":{"type":"string"}},"required":["serverString"]}`
	deleteToolSchema = `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`
)

// Service hosts a Catalogue as an MCP server. Every tool responds with two
// text blocks: a tagged JSON payload and a human-readable summary.
type Service struct {
	cat *catalog.Catalogue
	srv *server.MCPServer
}

// NewService wires the five catalogue tools onto a fresh MCP server.
func NewService(cat *catalog.Catalogue) *Service {
	s := &Service{
		cat: cat,
		srv: server.NewMCPServer("toolgate-registry", "0.1.0", server.WithToolCapabilities(true)),
	}
	s.srv.AddTool(
		sdk.NewToolWithRawSchema(ToolQueryTools, "Search the tool registry for tools matching a natural-language query.", json.RawMessage(queryToolsSchema)),
		s.handleQueryTools,
	)
	s.srv.AddTool(
		sdk.NewToolWithRawSchema(ToolListTools, "List every tool currently stored in the registry.", json.RawMessage(listToolsSchema)),
		s.handleListTools,
	)
	s.srv.AddTool(
		sdk.NewToolWithRawSchema(ToolAddTool, "Store a single tool descriptor in the registry.", json.RawMessage(addToolSchema)),
		s.handleAddTool,
	)
	s.srv.AddTool(
		sdk.NewToolWithRawSchema(ToolAddServer, "Connect to an MCP server and store all of its tools in the registry.", json.RawMessage(addServerSchema)),
		s.handleAddServer,
	)
	s.srv.AddTool(
		sdk.NewToolWithRawSchema(ToolDeleteTool, "Remove a tool from the registry by name.", json.RawMessage(deleteToolSchema)),
		s.handleDeleteTool,
	)
	return s
}

// Server returns the underlying MCP server for mounting on a transport.
func (s *Service) Server() *server.MCPServer { return s.srv }

// ServeSSE blocks serving the registry over SSE at addr.
func (s *Service) ServeSSE(addr, baseURL string) error {
	sse := server.NewSSEServer(s.srv, server.WithBaseURL(baseURL))
	log.Printf("[Registry] serving SSE on %s", addr)
	return sse.Start(addr)
}

// respond builds the two-block envelope: tagged JSON first, summary second.
func respond(payload any, summary string) (*sdk.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return respondErr(fmt.Errorf("registry: marshal response: %w", err))
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{
			sdk.NewTextContent(mcp.JSONTag + string(data)),
			sdk.NewTextContent(summary),
		},
	}, nil
}

// respondErr keeps the envelope shape on failure: a tagged JSON null plus
// the error text, carried as tool output rather than a protocol error so
// the message still reaches the caller.
func respondErr(err error) (*sdk.CallToolResult, error) {
	return &sdk.CallToolResult{
		Content: []sdk.Content{
			sdk.NewTextContent(mcp.JSONTag + "null"),
			sdk.NewTextContent(err.Error()),
		},
		IsError: true,
	}, nil
}

func decodeArgs(req sdk.CallToolRequest, into any) error {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return fmt.Errorf("registry: read arguments: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("registry: decode arguments: %w", err)
	}
	return nil
}

func (s *Service) handleQueryTools(ctx context.Context, req sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	var args struct {
		Query string  `json:"query"`
		Limit float64 `json:"limit"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return respondErr(err)
	}
	if args.Query == "" {
		return respondErr(fmt.Errorf("registry: query-tools requires a query"))
	}
	origins, err := s.cat.QueryTools(ctx, args.Query, int(args.Limit))
	if err != nil {
		return respondErr(err)
	}
	return respond(origins, fmt.Sprintf("Found %d matching tools.", len(origins)))
}

func (s *Service) handleListTools(ctx context.Context, _ sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	origins, err := s.cat.ListTools(ctx)
	if err != nil {
		return respondErr(err)
	}
	tools := make([]mcp.ToolDescriptor, len(origins))
	for i, o := range origins {
		tools[i] = o.Tool
	}
	return respond(tools, fmt.Sprintf("The registry holds %d tools.", len(tools)))
}

func (s *Service) handleAddTool(ctx context.Context, req sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	var args struct {
		Tool mcp.ToolDescriptor `json:"tool"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return respondErr(err)
	}
	if args.Tool.Name == "" {
		return respondErr(fmt.Errorf("registry: add-tool requires a tool name"))
	}
	// A bare add-tool has no server of origin; it is stored under the
	// registry's own synthetic origin so the record round-trips.
	origin := mcp.ToolOrigin{Tool: args.Tool, Server: mcp.ServerDescriptor{URL: "registry", Transport: mcp.TransportSSE}}
	if err := s.cat.AddTool(ctx, origin); err != nil {
		return respondErr(err)
	}
	return respond(args.Tool, fmt.Sprintf("Stored tool %q.", args.Tool.Name))
}

func (s *Service) handleAddServer(ctx context.Context, req sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	var args struct {
		ServerString string `json:"serverString"`
		AuthToken    string `json:"authToken"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return respondErr(err)
	}
	srv, err := mcp.ParseServerSpec(args.ServerString)
	if err != nil {
		return respondErr(err)
	}
	srv.AuthToken = args.AuthToken
	added, err := s.cat.AddServer(ctx, srv)
	if err != nil {
		return respondErr(err)
	}
	return respond(added, fmt.Sprintf("Registered %d tools from %s.", len(added), srv.ID()))
}

func (s *Service) handleDeleteTool(ctx context.Context, req sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return respondErr(err)
	}
	if args.Name == "" {
		return respondErr(fmt.Errorf("registry: delete-tool requires a name"))
	}
	if _, err := s.cat.DeleteTool(ctx, args.Name); err != nil {
		return respondErr(err)
	}
	return respond(true, fmt.Sprintf("Deleted tool %q.", args.Name))
}
