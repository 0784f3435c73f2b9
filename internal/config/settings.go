package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process configuration, bound once at startup. Nothing below
// the entry points reads the environment directly.
type Config struct {
	// Agent
	AnthropicAPIKey string
	ModelName       string
	APIVersion      string
	MaxTokens       int64

	// Loop
	MaxRecursionDepth int
	TurnTimeout       time.Duration

	// Connection pool
	PoolMaxClients int
	PoolTTL        time.Duration

	// Embeddings (registry similarity index)
	EmbeddingAPIKey  string
	EmbeddingModel   string
	EmbeddingBaseURL string

	// Optional persistent registry store
	RedisAddr string

	// Transcripts and server presets
	LogDir      string
	ServersFile string
}

const (
	defaultModel          = "claude-sonnet-4-20250514"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultLogDir         = "logs"
)

// Load binds environment variables into a Config. Call LoadEnv first so a
// .env file is honored. Only the Anthropic key is mandatory.
func Load() (Config, error) {
	cfg := Config{
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		ModelName:        getenvDefault("MODEL_NAME", defaultModel),
		APIVersion:       os.Getenv("ANT_VERSION"),
		EmbeddingAPIKey:  os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:   getenvDefault("EMBEDDING_MODEL", defaultEmbeddingModel),
		EmbeddingBaseURL: os.Getenv("EMBEDDING_BASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		LogDir:           getenvDefault("LOG_DIR", defaultLogDir),
		ServersFile:      os.Getenv("SERVERS_FILE"),
	}
	if cfg.AnthropicAPIKey == "" {
		return Config{}, errors.New("config: ANTHROPIC_API_KEY is required")
	}

	var err error
	if cfg.MaxTokens, err = getenvInt64("MAX_TOKENS", 4096); err != nil {
		return Config{}, err
	}
	depth, err := getenvInt("MAX_RECURSION_DEPTH", 10)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRecursionDepth = depth

	turnSecs, err := getenvInt("TURN_TIMEOUT_SECONDS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout = time.Duration(turnSecs) * time.Second

	if cfg.PoolMaxClients, err = getenvInt("POOL_MAX_CLIENTS", 0); err != nil {
		return Config{}, err
	}
	ttlMins, err := getenvInt("POOL_TTL_MINUTES", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.PoolTTL = time.Duration(ttlMins) * time.Minute

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}

func getenvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}
