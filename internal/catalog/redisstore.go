package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate/toolgate/internal/mcp"
)

// keyPrefix namespaces registry records inside a shared Redis instance.
const keyPrefix = "toolgate:tool:"

// RedisStore persists ToolOrigin records as RedisJSON documents, one
// document per tool key. Requires a Redis server with the JSON module.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, key string, origin mcp.ToolOrigin) error {
	data, err := json.Marshal(origin)
	if err != nil {
		return fmt.Errorf("catalog: marshal record %q: %w", key, err)
	}
	if err := s.rdb.JSONSet(ctx, keyPrefix+key, "$", string(data)).Err(); err != nil {
		return fmt.Errorf("catalog: write record %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PutBatch(ctx context.Context, items map[string]mcp.ToolOrigin) error {
	if len(items) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for key, origin := range items {
		data, err := json.Marshal(origin)
		if err != nil {
			return fmt.Errorf("catalog: marshal record %q: %w", key, err)
		}
		pipe.JSONSet(ctx, keyPrefix+key, "$", string(data))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("catalog: write batch: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("catalog: delete record %q: %w", key, err)
	}
	return nil
}

// GetBatch fetches records with a single JSON.MGET, preserving input order
// and yielding nil for keys that have no record.
func (s *RedisStore) GetBatch(ctx context.Context, keys []string) ([]*mcp.ToolOrigin, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = keyPrefix + key
	}
	vals, err := s.rdb.JSONMGet(ctx, "$", full...).Result()
	if err != nil {
		return nil, fmt.Errorf("catalog: read batch: %w", err)
	}
	out := make([]*mcp.ToolOrigin, len(keys))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		// JSON.MGET with a "$" path wraps each document in an array.
		var docs []mcp.ToolOrigin
		if err := json.Unmarshal([]byte(raw), &docs); err != nil || len(docs) == 0 {
			continue
		}
		out[i] = &docs[0]
	}
	return out, nil
}

// Scan walks the keyspace with SCAN and fetches matching documents in
// batches. limit <= 0 means no bound.
func (s *RedisStore) Scan(ctx context.Context, limit int) ([]mcp.ToolOrigin, error) {
	var out []mcp.ToolOrigin
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("catalog: scan keyspace: %w", err)
		}
		if len(keys) > 0 {
			stripped := make([]string, len(keys))
			for i, k := range keys {
				stripped[i] = k[len(keyPrefix):]
			}
			records, err := s.GetBatch(ctx, stripped)
			if err != nil {
				return nil, err
			}
			for _, rec := range records {
				if rec == nil {
					continue
				}
				out = append(out, *rec)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
