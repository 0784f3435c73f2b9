// registryd hosts the tool registry as a standalone MCP server over SSE.
// With REDIS_ADDR set the catalogue persists across restarts; otherwise it
// lives in memory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/pool"
	"github.com/toolgate/toolgate/internal/registry"
)

func main() {
	config.LoadEnv()

	addr := flag.String("addr", ":8080", "listen address for the SSE transport")
	baseURL := flag.String("base-url", "http://localhost:8080", "externally visible base URL")
	flag.Parse()

	apiKey := os.Getenv("EMBEDDING_API_KEY")
	if apiKey == "" {
		log.Fatalf("❌ EMBEDDING_API_KEY is required")
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "text-embedding-3-small"
	}
	embedder := catalog.NewOpenAIEmbedder(apiKey, model, os.Getenv("EMBEDDING_BASE_URL"))

	var store catalog.Store
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("❌ Redis at %s unreachable: %v", redisAddr, err)
		}
		store = catalog.NewRedisStore(rdb)
		fmt.Printf("💾 Store: redis @ %s\n", redisAddr)
	} else {
		store = catalog.NewMemoryStore()
		fmt.Println("💾 Store: in-memory (set REDIS_ADDR to persist)")
	}

	// add-server enumerations go through a pool so re-registering the same
	// server reuses its connection.
	clientPool := pool.New(pool.Options{})
	defer clientPool.Clear()

	cat := catalog.New(store, embedder, catalog.WithConnector(catalog.PooledConnector(clientPool)))
	if err := cat.Load(context.Background()); err != nil {
		log.Fatalf("❌ Failed to load catalogue: %v", err)
	}

	svc := registry.NewService(cat)
	fmt.Printf("🗂️  Registry listening on %s (base %s)\n", *addr, *baseURL)
	if err := svc.ServeSSE(*addr, *baseURL); err != nil {
		log.Fatalf("❌ SSE server: %v", err)
	}
}
