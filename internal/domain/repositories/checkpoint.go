package repositories

import (
	"context"

	"quorum/internal/domain/models"
)

// Checkpointer durably stores and restores session snapshots keyed by
// thread id. One session owns one thread id (single-writer semantics), so
// cross-session concurrency is not a checkpoint-layer concern.
//
// Get returns domain.ErrCheckpointNotFound for unknown ids. Connectivity
// errors are returned to the caller, never swallowed: silently losing a
// checkpoint write is worse than a visible failure.
type Checkpointer interface {
	Put(ctx context.Context, threadID string, snapshot []byte, metadata map[string]string) error
	Get(ctx context.Context, threadID string) (*models.Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
	HealthCheck(ctx context.Context) error
}
