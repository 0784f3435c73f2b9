// Package catalog is the registry's storage core: a tool-with-origin store
// plus a similarity index over tool descriptions. Writers take the
// catalogue's exclusive lock; similarity queries run under a shared lock.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/toolgate/toolgate/internal/mcp"
)

// Key derives the store key for an origin: "{server.url}-{tool.name}".
func Key(origin mcp.ToolOrigin) string {
	return fmt.Sprintf("%s-%s", origin.Server.URL, origin.Tool.Name)
}

// Store persists ToolOrigin records by key. Implementations must support
// per-item upsert, batch upsert, per-item delete, order-preserving batch get
// (nil for misses), and a bounded scan.
type Store interface {
	Put(ctx context.Context, key string, origin mcp.ToolOrigin) error
	PutBatch(ctx context.Context, items map[string]mcp.ToolOrigin) error
	Delete(ctx context.Context, key string) error
	GetBatch(ctx context.Context, keys []string) ([]*mcp.ToolOrigin, error)
	Scan(ctx context.Context, limit int) ([]mcp.ToolOrigin, error)
}

// MemoryStore keeps everything in process. Safe for concurrent use, though
// the catalogue already serializes writers.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]mcp.ToolOrigin
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]mcp.ToolOrigin)}
}

func (s *MemoryStore) Put(_ context.Context, key string, origin mcp.ToolOrigin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = origin
	return nil
}

func (s *MemoryStore) PutBatch(_ context.Context, items map[string]mcp.ToolOrigin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, origin := range items {
		s.items[key] = origin
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// GetBatch preserves input order and yields nil for misses.
func (s *MemoryStore) GetBatch(_ context.Context, keys []string) ([]*mcp.ToolOrigin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*mcp.ToolOrigin, len(keys))
	for i, key := range keys {
		if origin, ok := s.items[key]; ok {
			o := origin
			out[i] = &o
		}
	}
	return out, nil
}

// Scan returns up to limit records in key order (deterministic for tests);
// limit <= 0 means no bound.
func (s *MemoryStore) Scan(_ context.Context, limit int) ([]mcp.ToolOrigin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]mcp.ToolOrigin, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.items[key])
	}
	return out, nil
}
