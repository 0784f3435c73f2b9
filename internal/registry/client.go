package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/toolgate/toolgate/internal/mcp"
)

// Caller is the slice of the MCP client the registry adapter needs.
// *mcp.Client satisfies it.
type Caller interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (mcp.CallResult, error)
}

// Source resolves the live connection to the registry. It runs on every
// operation so the connection is never pinned: when a pool evicts or
// expires the client behind it, the next operation transparently dials a
// fresh one.
type Source func(ctx context.Context) (Caller, error)

// StaticSource wraps an already connected caller, for transports whose
// lifetime the adapter's owner manages directly.
func StaticSource(caller Caller) Source {
	return func(context.Context) (Caller, error) { return caller, nil }
}

// Envelope is one decoded registry response: the raw JSON payload exactly
// as the service emitted it, plus the human summary block.
type Envelope struct {
	RawJSON string
	Summary string
}

// Client adapts the registry connection into typed operations. It keeps a
// snapshot of the registry's own tool names so the toolbox can route
// meta-tool calls without a round trip.
type Client struct {
	source Source

	mu       sync.RWMutex
	snapshot []mcp.ToolDescriptor
	names    map[string]struct{}
}

// NewClient wraps source and takes an initial tool snapshot, so a registry
// that is unreachable fails here rather than mid-conversation.
func NewClient(ctx context.Context, source Source) (*Client, error) {
	c := &Client{source: source, names: make(map[string]struct{})}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh re-reads the registry's tool list and replaces the snapshot.
func (c *Client) Refresh(ctx context.Context) error {
	caller, err := c.source(ctx)
	if err != nil {
		return fmt.Errorf("registry: acquire connection: %w", err)
	}
	tools, err := caller.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("registry: list meta-tools: %w", err)
	}
	names := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		names[t.Name] = struct{}{}
	}
	c.mu.Lock()
	c.snapshot = tools
	c.names = names
	c.mu.Unlock()
	return nil
}

// IsMetaTool reports whether name belongs to the registry's tool surface.
func (c *Client) IsMetaTool(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[name]
	return ok
}

// MetaTools returns the snapshotted descriptors in the order the registry
// listed them.
func (c *Client) MetaTools() []mcp.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]mcp.ToolDescriptor, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// Call invokes a registry tool and decodes the two-block envelope. A null
// JSON payload means the service reported a failure; the summary carries
// the reason.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (Envelope, error) {
	caller, err := c.source(ctx)
	if err != nil {
		return Envelope{}, fmt.Errorf("registry: acquire connection: %w", err)
	}
	result, err := caller.CallTool(ctx, name, args)
	if err != nil {
		return Envelope{}, fmt.Errorf("registry: call %s: %w", name, err)
	}
	env := Envelope{}
	for _, item := range result.Items {
		if item.Type != "text" {
			continue
		}
		if item.IsJSON {
			env.RawJSON = item.Text
			continue
		}
		if env.Summary != "" {
			env.Summary += "\n"
		}
		env.Summary += item.Text
	}
	if env.RawJSON == "" {
		return env, fmt.Errorf("registry: %s response carried no JSON payload", name)
	}
	if env.RawJSON == "null" {
		if env.Summary == "" {
			env.Summary = "registry reported an unspecified error"
		}
		return env, errors.New(env.Summary)
	}
	return env, nil
}

// QueryTools searches the registry. The returned envelope's RawJSON is
// what flows back to the model.
func (c *Client) QueryTools(ctx context.Context, query string, limit int) ([]mcp.ToolOrigin, Envelope, error) {
	args := map[string]any{"query": query}
	if limit > 0 {
		args["limit"] = limit
	}
	env, err := c.Call(ctx, ToolQueryTools, args)
	if err != nil {
		return nil, env, err
	}
	var origins []mcp.ToolOrigin
	if err := json.Unmarshal([]byte(env.RawJSON), &origins); err != nil {
		return nil, env, fmt.Errorf("registry: decode query-tools payload: %w", err)
	}
	return origins, env, nil
}

// ListRegistryTools fetches every stored descriptor.
func (c *Client) ListRegistryTools(ctx context.Context) ([]mcp.ToolDescriptor, Envelope, error) {
	env, err := c.Call(ctx, ToolListTools, map[string]any{})
	if err != nil {
		return nil, env, err
	}
	var tools []mcp.ToolDescriptor
	if err := json.Unmarshal([]byte(env.RawJSON), &tools); err != nil {
		return nil, env, fmt.Errorf("registry: decode list-tools payload: %w", err)
	}
	return tools, env, nil
}

// AddTool stores a single descriptor.
func (c *Client) AddTool(ctx context.Context, tool mcp.ToolDescriptor) (mcp.ToolDescriptor, Envelope, error) {
	env, err := c.Call(ctx, ToolAddTool, map[string]any{"tool": tool})
	if err != nil {
		return mcp.ToolDescriptor{}, env, err
	}
	var stored mcp.ToolDescriptor
	if err := json.Unmarshal([]byte(env.RawJSON), &stored); err != nil {
		return mcp.ToolDescriptor{}, env, fmt.Errorf("registry: decode add-tool payload: %w", err)
	}
	return stored, env, nil
}

// AddServer registers every tool of the server named by spec ("url::type").
func (c *Client) AddServer(ctx context.Context, spec, authToken string) ([]mcp.ToolDescriptor, Envelope, error) {
	args := map[string]any{"serverString": spec}
	if authToken != "" {
		args["authToken"] = authToken
	}
	env, err := c.Call(ctx, ToolAddServer, args)
	if err != nil {
		return nil, env, err
	}
	var added []mcp.ToolDescriptor
	if err := json.Unmarshal([]byte(env.RawJSON), &added); err != nil {
		return nil, env, fmt.Errorf("registry: decode add-server payload: %w", err)
	}
	return added, env, nil
}

// DeleteTool removes a stored tool by name.
func (c *Client) DeleteTool(ctx context.Context, name string) (bool, Envelope, error) {
	env, err := c.Call(ctx, ToolDeleteTool, map[string]any{"name": name})
	if err != nil {
		return false, env, err
	}
	var ok bool
	if err := json.Unmarshal([]byte(env.RawJSON), &ok); err != nil {
		return false, env, fmt.Errorf("registry: decode delete-tool payload: %w", err)
	}
	return ok, env, nil
}
