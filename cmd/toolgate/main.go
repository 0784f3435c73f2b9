package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/toolgate/toolgate/internal/agent"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/conversation"
	"github.com/toolgate/toolgate/internal/loop"
	"github.com/toolgate/toolgate/internal/mcp"
	"github.com/toolgate/toolgate/internal/pool"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/toolbox"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <registry-spec> [<server-spec> ...]

A spec has the form url::type where type is one of sse, stdio, ws.
Examples:
  %s http://localhost:8080/sse::sse
  %s http://localhost:8080/sse::sse ./tools/weather.py::stdio
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	config.LoadEnv()

	fmt.Println(`  ████████╗ ██████╗  ██████╗ ██╗      ██████╗  █████╗ ████████╗███████╗`)
	fmt.Println(`  ╚══██╔══╝██╔═══██╗██╔═══██╗██║     ██╔════╝ ██╔══██╗╚══██╔══╝██╔════╝`)
	fmt.Println(`     ██║   ██║   ██║██║   ██║██║     ██║  ███╗███████║   ██║   █████╗  `)
	fmt.Println(`     ██║   ██║   ██║██║   ██║██║     ██║   ██║██╔══██║   ██║   ██╔══╝  `)
	fmt.Println(`     ██║   ╚██████╔╝╚██████╔╝███████╗╚██████╔╝██║  ██║   ██║   ███████╗`)
	fmt.Println(`     ╚═╝    ╚═════╝  ╚═════╝ ╚══════╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝`)
	fmt.Println(`          ╔═══ registry-gated MCP agent ═══╗`)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	registrySpec, err := mcp.ParseServerSpec(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad registry spec: %v\n", err)
		usage()
		os.Exit(2)
	}
	var servers []mcp.ServerDescriptor
	for _, arg := range os.Args[2:] {
		server, err := mcp.ParseServerSpec(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad server spec: %v\n", err)
			usage()
			os.Exit(2)
		}
		servers = append(servers, server)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	presets, err := config.LoadServerPresets(cfg.ServersFile)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	for _, p := range presets {
		server, err := mcp.ParseServerSpec(p.Spec)
		if err != nil {
			log.Fatalf("❌ servers file: %v", err)
		}
		server.AuthToken = p.AuthToken
		servers = append(servers, server)
	}

	ctx := context.Background()
	clientPool := pool.New(pool.Options{
		MaxClients: cfg.PoolMaxClients,
		TTL:        cfg.PoolTTL,
	})
	defer clientPool.Clear()

	// The registry connection lives in the same pool as every upstream so
	// one policy governs all client lifetimes. Each registry operation goes
	// back through Acquire: an entry the pool evicted or expired in the
	// meantime is simply redialed.
	registrySource := func(ctx context.Context) (registry.Caller, error) {
		c, err := clientPool.Acquire(ctx, registrySpec.ID(), func(ctx context.Context) (pool.Client, error) {
			c := mcp.NewClient(registrySpec)
			if err := c.Connect(ctx); err != nil {
				return nil, err
			}
			return c, nil
		})
		if err != nil {
			return nil, err
		}
		return c.(*mcp.Client), nil
	}
	regClient, err := registry.NewClient(ctx, registrySource)
	if err != nil {
		log.Fatalf("❌ Failed to connect to registry %s: %v", registrySpec.ID(), err)
	}
	fmt.Printf("🗂️  Registry: %s\n", registrySpec.ID())

	tb := toolbox.New(clientPool, regClient)
	for _, server := range servers {
		names, err := tb.ConnectToServer(ctx, server)
		if err != nil {
			log.Fatalf("❌ Failed to connect to %s: %v", server.ID(), err)
		}
		fmt.Printf("🔌 %s: %s\n", server.ID(), strings.Join(names, ", "))
	}

	ag, err := agent.NewAnthropic(agent.AnthropicConfig{
		APIKey:     cfg.AnthropicAPIKey,
		Model:      cfg.ModelName,
		MaxTokens:  cfg.MaxTokens,
		APIVersion: cfg.APIVersion,
	})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Printf("🤖 Model: %s\n", cfg.ModelName)

	transcripts, err := loop.NewTranscriptLogger(cfg.LogDir)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	turns := loop.New(ag, tb, loop.Options{
		MaxDepth:    cfg.MaxRecursionDepth,
		TurnTimeout: cfg.TurnTimeout,
		Transcripts: transcripts,
	})

	fmt.Println(`Type your request, or "quit" to exit.`)
	var conv conversation.Conversation
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" {
			break
		}
		start := len(conv)
		conv = turns.RunTurn(ctx, conv, line)
		// Skip the echoed user message; print only what this turn produced.
		if out := loop.RenderUserFacing(conv[start+1:]); out != "" {
			fmt.Println(out)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("❌ stdin: %v", err)
	}
	fmt.Println("👋 Bye")
}
