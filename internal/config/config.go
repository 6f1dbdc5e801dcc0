package config

import (
	"os"
)

type Config struct {
	Environment string
	// Checkpoint persistence
	CheckpointBackend  string // "redis" (default), "postgres", or "memory"
	CheckpointFallback bool   // substitute in-memory backend when the probe fails
	RedisURL           string
	PostgresURL        string
	TablePrefix        string
	// Semantic cache store: "memory" or "redis"
	CacheStore string
	// Providers
	DefaultProvider string
	EmbeddingDims   int
	// Logging
	LogDir      string
	LogMaxFiles int
	Debug       bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Environment:        env,
		CheckpointBackend:  getEnv("CHECKPOINT_BACKEND", "redis"),
		CheckpointFallback: getEnv("CHECKPOINT_FALLBACK", "true") == "true",
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		TablePrefix:        getTablePrefix(env),
		CacheStore:         getEnv("CACHE_STORE", "memory"),
		DefaultProvider:    getEnv("DEFAULT_PROVIDER", "lorem"),
		EmbeddingDims:      256,
		LogDir:             getEnv("LOG_DIR", ""),
		LogMaxFiles:        10,
		Debug:              getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the checkpoint table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
