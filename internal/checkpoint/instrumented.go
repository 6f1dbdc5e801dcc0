package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quorum/internal/domain"
	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
)

// Instrumented decorates a Checkpointer with size/latency/outcome logging
// on every call. Instrumentation stays out of the backends themselves so
// redis, postgres and memory log identically. Errors are logged with full
// context and then re-raised: the layer never swallows connectivity
// failures.
type Instrumented struct {
	inner   repositories.Checkpointer
	backend string
	logger  *slog.Logger
}

// NewInstrumented wraps a checkpointer with instrumentation.
func NewInstrumented(inner repositories.Checkpointer, backend string, logger *slog.Logger) *Instrumented {
	return &Instrumented{inner: inner, backend: backend, logger: logger}
}

var _ repositories.Checkpointer = (*Instrumented)(nil)

// Put delegates and logs snapshot size, duration and outcome.
func (i *Instrumented) Put(ctx context.Context, threadID string, snapshot []byte, metadata map[string]string) error {
	start := time.Now()
	err := i.inner.Put(ctx, threadID, snapshot, metadata)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("checkpoint put failed",
			"backend", i.backend,
			"thread_id", threadID,
			"size_bytes", len(snapshot),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return err
	}

	i.logger.Debug("checkpoint put",
		"backend", i.backend,
		"thread_id", threadID,
		"size_bytes", len(snapshot),
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// Get delegates and logs found-or-not, size, duration and outcome.
func (i *Instrumented) Get(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	start := time.Now()
	cp, err := i.inner.Get(ctx, threadID)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, domain.ErrCheckpointNotFound) {
			i.logger.Debug("checkpoint get",
				"backend", i.backend,
				"thread_id", threadID,
				"found", false,
				"duration_ms", duration.Milliseconds(),
			)
			return nil, err
		}
		i.logger.Error("checkpoint get failed",
			"backend", i.backend,
			"thread_id", threadID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	i.logger.Debug("checkpoint get",
		"backend", i.backend,
		"thread_id", threadID,
		"found", true,
		"size_bytes", len(cp.Snapshot),
		"duration_ms", duration.Milliseconds(),
	)
	return cp, nil
}

// Delete delegates and logs the outcome.
func (i *Instrumented) Delete(ctx context.Context, threadID string) error {
	err := i.inner.Delete(ctx, threadID)
	if err != nil {
		i.logger.Error("checkpoint delete failed",
			"backend", i.backend,
			"thread_id", threadID,
			"error", err,
		)
		return err
	}
	i.logger.Debug("checkpoint delete", "backend", i.backend, "thread_id", threadID)
	return nil
}

// HealthCheck delegates to the backend.
func (i *Instrumented) HealthCheck(ctx context.Context) error {
	return i.inner.HealthCheck(ctx)
}
