// Package checkpoint selects and decorates the checkpoint persistence
// backend: redis by default, postgres as the alternative, with automatic
// degradation to an in-memory backend when the durable one is unreachable
// at startup.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"quorum/internal/config"
	"quorum/internal/domain/repositories"
	"quorum/internal/repository/memory"
	"quorum/internal/repository/postgres"
	redisrepo "quorum/internal/repository/redis"
)

// Health describes which backend is actually serving checkpoints, so
// operators can see when the system runs in a non-durable degraded mode.
type Health struct {
	Backend         string `json:"backend"`
	UsingFallback   bool   `json:"using_fallback"`
	Reason          string `json:"reason,omitempty"`
	OriginalBackend string `json:"original_backend,omitempty"`
}

const probeTimeout = 5 * time.Second

// New constructs the configured checkpoint backend, wrapped in put/get
// instrumentation. When the startup connectivity probe fails and fallback
// is enabled, an in-memory backend is substituted transparently and the
// substitution is recorded in Health.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.Checkpointer, *Health, error) {
	inner, health, err := build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return NewInstrumented(inner, health.Backend, logger), health, nil
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.Checkpointer, *Health, error) {
	switch cfg.CheckpointBackend {
	case "redis", "":
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		client, err := redisrepo.NewClient(probeCtx, cfg.RedisURL)
		if err == nil {
			logger.Info("checkpoint backend ready", "backend", "redis", "url", MaskDSN(cfg.RedisURL))
			return redisrepo.NewCheckpointer(client), &Health{Backend: "redis"}, nil
		}
		if !cfg.CheckpointFallback {
			return nil, nil, fmt.Errorf("redis checkpoint backend unavailable and fallback disabled: %w", err)
		}
		logger.Warn("redis probe failed, degrading to in-memory checkpoints",
			"url", MaskDSN(cfg.RedisURL),
			"error", err,
		)
		return memory.NewCheckpointer(), &Health{
			Backend:         "memory",
			UsingFallback:   true,
			Reason:          err.Error(),
			OriginalBackend: "redis",
		}, nil

	case "postgres":
		pool, err := postgres.CreateConnectionPool(ctx, cfg.PostgresURL)
		if err != nil {
			if !cfg.CheckpointFallback {
				return nil, nil, fmt.Errorf("postgres checkpoint backend unavailable and fallback disabled: %w", err)
			}
			logger.Warn("postgres probe failed, degrading to in-memory checkpoints",
				"url", MaskDSN(cfg.PostgresURL),
				"error", err,
			)
			return memory.NewCheckpointer(), &Health{
				Backend:         "memory",
				UsingFallback:   true,
				Reason:          err.Error(),
				OriginalBackend: "postgres",
			}, nil
		}
		cp := postgres.NewCheckpointer(pool, postgres.NewTableNames(cfg.TablePrefix), logger)
		cp.EnsureSchema(ctx)
		logger.Info("checkpoint backend ready", "backend", "postgres", "url", MaskDSN(cfg.PostgresURL))
		return cp, &Health{Backend: "postgres"}, nil

	case "memory":
		logger.Info("checkpoint backend ready", "backend", "memory")
		return memory.NewCheckpointer(), &Health{Backend: "memory"}, nil

	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend: %s", cfg.CheckpointBackend)
	}
}

var dsnPasswordPattern = regexp.MustCompile(`(://[^:/@]*):[^@]+@`)

// MaskDSN masks the password segment of a connection string so credentials
// never reach the logs.
func MaskDSN(dsn string) string {
	return dsnPasswordPattern.ReplaceAllString(dsn, "$1:****@")
}
