package catalog

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/toolgate/toolgate/internal/mcp"
	"github.com/toolgate/toolgate/internal/pool"
)

// DefaultQueryLimit bounds query-tools results when the caller gives none.
const DefaultQueryLimit = 10

// querySuffix is appended to every similarity query so connection-related
// tools surface alongside the literal matches.
const querySuffix = " Additionally, any relevant connection tools"

// Connector enumerates the tools of a server. The default implementation
// dials the server, runs the handshake, lists tools and disconnects.
type Connector func(ctx context.Context, server mcp.ServerDescriptor) ([]mcp.ToolDescriptor, error)

func dialAndList(ctx context.Context, server mcp.ServerDescriptor) ([]mcp.ToolDescriptor, error) {
	c := mcp.NewClient(server)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.Close()
	return c.ListTools(ctx)
}

type lister interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
}

// PooledConnector enumerates a server's tools through p, so repeated
// add-server calls for the same server reuse one live connection instead
// of re-handshaking every time.
func PooledConnector(p *pool.Pool) Connector {
	return pooledConnector(p, func(ctx context.Context, server mcp.ServerDescriptor) (pool.Client, error) {
		c := mcp.NewClient(server)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func pooledConnector(p *pool.Pool, dial func(ctx context.Context, server mcp.ServerDescriptor) (pool.Client, error)) Connector {
	return func(ctx context.Context, server mcp.ServerDescriptor) ([]mcp.ToolDescriptor, error) {
		c, err := p.Acquire(ctx, server.ID(), func(ctx context.Context) (pool.Client, error) {
			return dial(ctx, server)
		})
		if err != nil {
			return nil, err
		}
		l, ok := c.(lister)
		if !ok {
			return nil, fmt.Errorf("catalog: pooled client for %s cannot list tools", server.ID())
		}
		tools, err := l.ListTools(ctx)
		if err != nil {
			p.Invalidate(server.ID())
			return nil, err
		}
		return tools, nil
	}
}

// Catalogue is the registry's tool catalogue: a store of tool-origin
// records plus a similarity index over tool descriptions. Records are
// keyed by (server, tool name), so the same tool name offered by two
// servers is two records; the index keeps one vector per name. One writer
// at a time; queries proceed concurrently.
type Catalogue struct {
	mu       sync.RWMutex
	store    Store
	index    *Index
	embedder Embedder
	connect  Connector
	byName   map[string][]mcp.ToolOrigin
}

// Option configures a Catalogue.
type Option func(*Catalogue)

// WithConnector overrides how the catalogue enumerates a server's tools.
func WithConnector(c Connector) Option {
	return func(cat *Catalogue) { cat.connect = c }
}

// New builds a catalogue over the given store and embedder.
func New(store Store, embedder Embedder, opts ...Option) *Catalogue {
	cat := &Catalogue{
		store:    store,
		index:    NewIndex(),
		embedder: embedder,
		connect:  dialAndList,
		byName:   make(map[string][]mcp.ToolOrigin),
	}
	for _, opt := range opts {
		opt(cat)
	}
	return cat
}

func embedText(tool mcp.ToolDescriptor) string {
	return fmt.Sprintf("%s: %s", tool.Name, tool.Description)
}

// Load hydrates the in-memory map and index from the store. Called once at
// startup, before the catalogue is exposed.
func (cat *Catalogue) Load(ctx context.Context) error {
	cat.mu.Lock()
	defer cat.mu.Unlock()
	records, err := cat.store.Scan(ctx, 0)
	if err != nil {
		return fmt.Errorf("catalog: load store: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = embedText(rec.Tool)
	}
	vectors, err := cat.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("catalog: embed stored tools: %w", err)
	}
	for i, rec := range records {
		cat.byName[rec.Tool.Name] = upsertRecord(cat.byName[rec.Tool.Name], rec)
		cat.index.Upsert(rec.Tool.Name, vectors[i])
	}
	log.Printf("[Catalog] loaded %d tools from store", len(records))
	return nil
}

// AddTool upserts a single tool-origin record: store write, then index
// update. Re-adding the same (server, name) pair replaces that record;
// the same name from another server is a record of its own.
func (cat *Catalogue) AddTool(ctx context.Context, origin mcp.ToolOrigin) error {
	cat.mu.Lock()
	defer cat.mu.Unlock()
	return cat.addLocked(ctx, origin)
}

func (cat *Catalogue) addLocked(ctx context.Context, origin mcp.ToolOrigin) error {
	vectors, err := cat.embedder.Embed(ctx, []string{embedText(origin.Tool)})
	if err != nil {
		return fmt.Errorf("catalog: embed tool %q: %w", origin.Tool.Name, err)
	}
	if err := cat.store.Put(ctx, Key(origin), origin); err != nil {
		return err
	}
	cat.byName[origin.Tool.Name] = upsertRecord(cat.byName[origin.Tool.Name], origin)
	cat.index.Upsert(origin.Tool.Name, vectors[0])
	return nil
}

// upsertRecord replaces the record sharing origin's compound key, or
// appends when the key is new. Order within a name is first-registered
// first.
func upsertRecord(records []mcp.ToolOrigin, origin mcp.ToolOrigin) []mcp.ToolOrigin {
	for i, rec := range records {
		if Key(rec) == Key(origin) {
			records[i] = origin
			return records
		}
	}
	return append(records, origin)
}

// AddServer enumerates the server's tools and registers each of them. The
// tools that were registered are returned even when later ones fail; the
// first error is reported alongside.
func (cat *Catalogue) AddServer(ctx context.Context, server mcp.ServerDescriptor) ([]mcp.ToolDescriptor, error) {
	tools, err := cat.connect(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("catalog: enumerate server %s: %w", server.ID(), err)
	}
	cat.mu.Lock()
	defer cat.mu.Unlock()
	added := make([]mcp.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		if err := cat.addLocked(ctx, mcp.ToolOrigin{Tool: tool, Server: server}); err != nil {
			return added, err
		}
		added = append(added, tool)
	}
	log.Printf("[Catalog] registered %d tools from %s", len(added), server.ID())
	return added, nil
}

// DeleteTool removes every record stored under a tool name, whichever
// servers they came from. Deleting an unknown name is an error so callers
// can report misspellings.
func (cat *Catalogue) DeleteTool(ctx context.Context, name string) ([]mcp.ToolOrigin, error) {
	cat.mu.Lock()
	defer cat.mu.Unlock()
	records, ok := cat.byName[name]
	if !ok {
		return nil, fmt.Errorf("catalog: tool %q not found", name)
	}
	for _, origin := range records {
		if err := cat.store.Delete(ctx, Key(origin)); err != nil {
			return nil, err
		}
	}
	delete(cat.byName, name)
	cat.index.Delete(name)
	return records, nil
}

// QueryTools ranks the catalogue against a natural-language query and
// returns up to limit matches with their origins. limit <= 0 applies
// DefaultQueryLimit.
func (cat *Catalogue) QueryTools(ctx context.Context, query string, limit int) ([]mcp.ToolOrigin, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	vectors, err := cat.embedder.Embed(ctx, []string{query + querySuffix})
	if err != nil {
		return nil, fmt.Errorf("catalog: embed query: %w", err)
	}
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	names := cat.index.Search(vectors[0], limit)
	out := make([]mcp.ToolOrigin, 0, limit)
	for _, name := range names {
		out = append(out, cat.byName[name]...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTools returns every record, sorted by tool name then server.
func (cat *Catalogue) ListTools(_ context.Context) ([]mcp.ToolOrigin, error) {
	cat.mu.RLock()
	defer cat.mu.RUnlock()
	out := make([]mcp.ToolOrigin, 0, len(cat.byName))
	for _, records := range cat.byName {
		out = append(out, records...)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Tool.Name != out[b].Tool.Name {
			return out[a].Tool.Name < out[b].Tool.Name
		}
		return out[a].Server.ID() < out[b].Server.ID()
	})
	return out, nil
}
