package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	sdk_client "github.com/mark3labs/mcp-go/client"
	sdk_transport "github.com/mark3labs/mcp-go/client/transport"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// JSONTag marks a text content item as a machine-readable JSON payload.
// The registry service prefixes its JSON block with this tag; Client strips
// it on ingest and sets ContentItem.IsJSON instead. The control bytes cannot
// occur in model- or human-generated text.
const JSONTag = "\x01json\x01"

// ContentItem is one item of a tool call result. Only text and image items
// exist on the wire; images are carried through here untouched and rejected
// by the conversation layer.
type ContentItem struct {
	Type     string `json:"type"` // "text" | "image"
	Text     string `json:"text,omitempty"`
	IsJSON   bool   `json:"isJson,omitempty"`
	MIMEType string `json:"mimeType,omitempty"` // image only
}

// CallResult is the structured result of a tool invocation. Meta is opaque
// and passed through untouched.
type CallResult struct {
	Items   []ContentItem
	IsError bool
	Meta    json.RawMessage
}

// HasImage reports whether any result item is an image.
func (r CallResult) HasImage() bool {
	for _, it := range r.Items {
		if it.Type == "image" {
			return true
		}
	}
	return false
}

// Client wraps an mcp-go SDK client for a single server descriptor.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	mu     sync.RWMutex
	server ServerDescriptor
	inner  sdk_client.MCPClient
}

// NewClient creates an unconnected Client for the given server.
// Call Connect before ListTools or CallTool.
func NewClient(server ServerDescriptor) *Client {
	return &Client{server: server}
}

// NewConnectedClient creates a Client around an already started inner SDK
// client. Used for the in-process registry transport and in tests.
func NewConnectedClient(server ServerDescriptor, inner sdk_client.MCPClient) *Client {
	return &Client{server: server, inner: inner}
}

// Server returns the descriptor this client was built for.
func (c *Client) Server() ServerDescriptor { return c.server }

// Connect opens the transport and performs the MCP initialize handshake.
// Errors during open are fatal for this client instance.
func (c *Client) Connect(ctx context.Context) error {
	var inner sdk_client.MCPClient

	switch c.server.Transport {
	case TransportStdio:
		command, args := resolveStdioCommand(c.server.URL)
		cli, err := sdk_client.NewStdioMCPClient(command, nil, args...)
		if err != nil {
			return fmt.Errorf("mcp: start stdio server %q: %w", c.server.URL, err)
		}
		inner = cli

	case TransportSSE:
		var opts []sdk_transport.ClientOption
		if c.server.AuthToken != "" {
			opts = append(opts, sdk_transport.WithHeaders(map[string]string{
				"Authorization": "Bearer " + c.server.AuthToken,
			}))
		}
		cli, err := sdk_client.NewSSEMCPClient(c.server.URL, opts...)
		if err != nil {
			return fmt.Errorf("mcp: create SSE client %q: %w", c.server.URL, err)
		}
		if err := cli.Start(ctx); err != nil {
			return fmt.Errorf("mcp: start SSE client %q: %w", c.server.URL, err)
		}
		inner = cli

	case TransportWS:
		cli := sdk_client.NewClient(newWSTransport(c.server.URL, c.server.AuthToken))
		if err := cli.Start(ctx); err != nil {
			return fmt.Errorf("mcp: start ws client %q: %w", c.server.URL, err)
		}
		inner = cli

	default:
		return fmt.Errorf("mcp: unknown transport %q for server %q", c.server.Transport, c.server.URL)
	}

	// MCP initialize handshake; clean up if it fails.
	_, err := inner.Initialize(ctx, sdk_mcp.InitializeRequest{
		Params: sdk_mcp.InitializeParams{
			ProtocolVersion: sdk_mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdk_mcp.Implementation{
				Name:    "toolgate",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		_ = inner.Close()
		return fmt.Errorf("mcp: initialize server %q: %w", c.server.ID(), err)
	}

	c.mu.Lock()
	c.inner = inner
	c.mu.Unlock()
	return nil
}

// ListTools returns the descriptors of all tools exposed by this server.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	inner, err := c.connected()
	if err != nil {
		return nil, err
	}

	result, err := inner.ListTools(ctx, sdk_mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools %q: %w", c.server.ID(), err)
	}

	tools := make([]ToolDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := json.RawMessage(t.RawInputSchema)
		if len(schema) == 0 {
			if data, err := json.Marshal(t.InputSchema); err == nil {
				schema = data
			}
		}
		tools = append(tools, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes the named tool and returns its structured result.
// A server-reported tool error is not a Go error: it comes back as
// CallResult.IsError so callers can distinguish it from transport failures.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	inner, err := c.connected()
	if err != nil {
		return CallResult{}, err
	}

	req := sdk_mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := inner.CallTool(ctx, req)
	if err != nil {
		return CallResult{}, fmt.Errorf("mcp: call tool %q on %q: %w", name, c.server.ID(), err)
	}

	out := CallResult{IsError: result.IsError}
	if result.Meta != nil {
		if data, err := json.Marshal(result.Meta); err == nil {
			out.Meta = data
		}
	}
	for _, content := range result.Content {
		switch v := content.(type) {
		case sdk_mcp.TextContent:
			item := ContentItem{Type: "text", Text: v.Text}
			if strings.HasPrefix(v.Text, JSONTag) {
				item.Text = strings.TrimPrefix(v.Text, JSONTag)
				item.IsJSON = true
			}
			out.Items = append(out.Items, item)
		case sdk_mcp.ImageContent:
			out.Items = append(out.Items, ContentItem{Type: "image", MIMEType: v.MIMEType})
		}
	}
	return out, nil
}

// Close terminates the connection and releases resources. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	inner := c.inner
	c.inner = nil
	c.mu.Unlock()

	if inner == nil {
		return nil
	}
	return inner.Close()
}

func (c *Client) connected() (sdk_client.MCPClient, error) {
	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()
	if inner == nil {
		return nil, fmt.Errorf("mcp: client %q not connected", c.server.ID())
	}
	return inner, nil
}

// resolveStdioCommand maps a stdio server "url" (a command line or script
// path) to an executable plus arguments, choosing an interpreter by
// extension. Python scripts prefer uv when it is on PATH so servers with
// inline dependency metadata work out of the box.
func resolveStdioCommand(spec string) (string, []string) {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return spec, nil
	}
	command, rest := fields[0], fields[1:]

	switch strings.ToLower(filepath.Ext(command)) {
	case ".py":
		if uv, err := exec.LookPath("uv"); err == nil {
			return uv, append([]string{"run", command}, rest...)
		}
		return "python3", append([]string{command}, rest...)
	case ".js", ".mjs", ".ts":
		return "node", append([]string{command}, rest...)
	default:
		return command, rest
	}
}
