// Package toolbox is the dispatch surface between the agent loop and the
// outside world: it tracks every tool the model may call, routes registry
// meta-tools to the registry client, and forwards everything else to pooled
// upstream MCP clients.
package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/toolgate/toolgate/internal/conversation"
	"github.com/toolgate/toolgate/internal/mcp"
	"github.com/toolgate/toolgate/internal/pool"
	"github.com/toolgate/toolgate/internal/registry"
)

// Toolbox holds the locally-known tools by name, their server origins, the
// connection pool that owns upstream client lifetimes, and the registry
// client meta-tools are delegated to.
type Toolbox struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]mcp.ToolDescriptor
	origins map[string]mcp.ServerDescriptor

	pool     *pool.Pool
	registry *registry.Client
	dial     func(ctx context.Context, server mcp.ServerDescriptor) (pool.Client, error)
}

// New builds an empty toolbox over the given pool and registry client.
func New(p *pool.Pool, rc *registry.Client) *Toolbox {
	return &Toolbox{
		tools:    make(map[string]mcp.ToolDescriptor),
		origins:  make(map[string]mcp.ServerDescriptor),
		pool:     p,
		registry: rc,
		dial:     dialServer,
	}
}

func dialServer(ctx context.Context, server mcp.ServerDescriptor) (pool.Client, error) {
	client := mcp.NewClient(server)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// AvailableTools returns the full tool surface offered to the model:
// locally-known tools in insertion order, then the registry's meta-tools.
// The order is stable across calls.
func (tb *Toolbox) AvailableTools() []mcp.ToolDescriptor {
	tb.mu.RLock()
	out := make([]mcp.ToolDescriptor, 0, len(tb.order))
	for _, name := range tb.order {
		out = append(out, tb.tools[name])
	}
	tb.mu.RUnlock()
	return append(out, tb.registry.MetaTools()...)
}

// Origin returns the server a tool name resolves to.
func (tb *Toolbox) Origin(name string) (mcp.ServerDescriptor, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	server, ok := tb.origins[name]
	return server, ok
}

// conflicts returns one error per offending name: a tool already known
// under the same name but from a different server, or a name the batch
// itself carries from two servers. Re-registering a tool from its own
// server is a no-op, not a conflict.
func (tb *Toolbox) conflicts(origins []mcp.ToolOrigin) error {
	var errs []error
	seen := make(map[string]mcp.ServerDescriptor, len(origins))
	for _, o := range origins {
		if existing, ok := tb.origins[o.Tool.Name]; ok && existing.ID() != o.Server.ID() {
			errs = append(errs, fmt.Errorf("toolbox: tool %q already provided by %s", o.Tool.Name, existing.ID()))
			continue
		}
		if prev, ok := seen[o.Tool.Name]; ok && prev.ID() != o.Server.ID() {
			errs = append(errs, fmt.Errorf("toolbox: tool %q offered twice in one batch, by %s and %s", o.Tool.Name, prev.ID(), o.Server.ID()))
			continue
		}
		seen[o.Tool.Name] = o.Server
	}
	return errors.Join(errs...)
}

func (tb *Toolbox) installLocked(origins []mcp.ToolOrigin) []string {
	added := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, ok := tb.tools[o.Tool.Name]; !ok {
			tb.order = append(tb.order, o.Tool.Name)
		}
		tb.tools[o.Tool.Name] = o.Tool
		tb.origins[o.Tool.Name] = o.Server
		added = append(added, o.Tool.Name)
	}
	return added
}

// RegisterTools records descriptors and origins without opening any
// connection. The whole batch is rejected when any name conflicts with a
// different origin.
func (tb *Toolbox) RegisterTools(origins []mcp.ToolOrigin) ([]string, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if err := tb.conflicts(origins); err != nil {
		return nil, err
	}
	return tb.installLocked(origins), nil
}

// ConnectToServer eagerly connects, lists the server's tools and installs
// all of them. Conflicting names from other servers reject the whole batch.
func (tb *Toolbox) ConnectToServer(ctx context.Context, server mcp.ServerDescriptor) ([]string, error) {
	client, err := tb.acquire(ctx, server)
	if err != nil {
		return nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		tb.pool.Invalidate(server.ID())
		return nil, fmt.Errorf("toolbox: list tools of %s: %w", server.ID(), err)
	}
	origins := make([]mcp.ToolOrigin, len(tools))
	for i, tool := range tools {
		origins[i] = mcp.ToolOrigin{Tool: tool, Server: server}
	}
	names, err := tb.RegisterTools(origins)
	if err != nil {
		return nil, err
	}
	log.Printf("[Toolbox] connected %s: %d tools", server.ID(), len(names))
	return names, nil
}

// upstream is what dispatch needs from a pooled connection. *mcp.Client
// satisfies it.
type upstream interface {
	pool.Client
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (mcp.CallResult, error)
}

// acquire resolves a pooled client for the server, dialing on a cold slot.
func (tb *Toolbox) acquire(ctx context.Context, server mcp.ServerDescriptor) (upstream, error) {
	c, err := tb.pool.Acquire(ctx, server.ID(), func(ctx context.Context) (pool.Client, error) {
		return tb.dial(ctx, server)
	})
	if err != nil {
		return nil, fmt.Errorf("toolbox: acquire client for %s: %w", server.ID(), err)
	}
	return c.(upstream), nil
}

func errorResult(toolUseID, message string) conversation.ToolResult {
	return conversation.ToolResult{
		ToolUseID: toolUseID,
		Content:   []conversation.Text{{Text: message, Visible: false}},
		IsError:   true,
	}
}

// ExecuteTool dispatches one tool call. Failures of any kind come back as
// an error-flagged ToolResult; ExecuteTool itself never fails the turn.
func (tb *Toolbox) ExecuteTool(ctx context.Context, tu conversation.ToolUse) conversation.ToolResult {
	args := map[string]any{}
	if len(tu.Args) > 0 {
		if err := json.Unmarshal(tu.Args, &args); err != nil {
			return errorResult(tu.ID, fmt.Sprintf("malformed arguments for tool %q: %v", tu.Name, err))
		}
	}

	if tb.registry.IsMetaTool(tu.Name) {
		return tb.executeMetaTool(ctx, tu, args)
	}

	tb.mu.RLock()
	server, known := tb.origins[tu.Name]
	tb.mu.RUnlock()
	if !known {
		return errorResult(tu.ID, fmt.Sprintf("unknown tool %q; use query-tools to discover available tools", tu.Name))
	}

	client, err := tb.acquire(ctx, server)
	if err != nil {
		return errorResult(tu.ID, err.Error())
	}
	result, err := client.CallTool(ctx, tu.Name, args)
	if err != nil {
		// The transport may be wedged; drop the cached client so the next
		// call dials fresh.
		tb.pool.Invalidate(server.ID())
		return errorResult(tu.ID, fmt.Sprintf("tool %q failed: %v", tu.Name, err))
	}
	if result.HasImage() {
		return errorResult(tu.ID, conversation.ErrImageContent.Error())
	}

	content := make([]conversation.Text, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Type == "text" {
			content = append(content, conversation.Text{Text: item.Text})
		}
	}
	return conversation.ToolResult{ToolUseID: tu.ID, Content: content, IsError: result.IsError}
}

// executeMetaTool routes a registry meta-tool. query-tools additionally
// registers the returned origins so the next model call can use them; its
// result text is a short summary rather than the raw payload, to keep the
// prompt small.
func (tb *Toolbox) executeMetaTool(ctx context.Context, tu conversation.ToolUse, args map[string]any) conversation.ToolResult {
	if tu.Name == registry.ToolQueryTools {
		query, _ := args["query"].(string)
		limit := 0
		if f, ok := args["limit"].(float64); ok {
			limit = int(f)
		}
		origins, _, err := tb.registry.QueryTools(ctx, query, limit)
		if err != nil {
			return errorResult(tu.ID, err.Error())
		}
		// Ranked results may carry the same tool name from several servers;
		// the best-ranked origin wins the slot.
		taken := make(map[string]struct{}, len(origins))
		unique := make([]mcp.ToolOrigin, 0, len(origins))
		for _, o := range origins {
			if _, ok := taken[o.Tool.Name]; ok {
				continue
			}
			taken[o.Tool.Name] = struct{}{}
			unique = append(unique, o)
		}
		names, err := tb.RegisterTools(unique)
		if err != nil {
			return errorResult(tu.ID, err.Error())
		}
		summary := "no matching tools found"
		if len(names) > 0 {
			summary = "successfully queried and added " + strings.Join(names, ", ")
		}
		return conversation.ToolResult{
			ToolUseID: tu.ID,
			Content:   []conversation.Text{{Text: summary}},
		}
	}

	env, err := tb.registry.Call(ctx, tu.Name, args)
	if err != nil {
		return errorResult(tu.ID, err.Error())
	}
	// The raw payload flows back to the model as evidence; the summary
	// rides along as a second block.
	return conversation.ToolResult{
		ToolUseID: tu.ID,
		Content: []conversation.Text{
			{Text: env.RawJSON},
			{Text: env.Summary},
		},
	}
}
