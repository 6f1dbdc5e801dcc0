// Package memory provides in-memory repository implementations: the
// degraded-mode checkpoint fallback and the default cache store for
// single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"quorum/internal/domain"
	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
)

// Checkpointer is the non-durable checkpoint backend used when the
// configured durable backend is unreachable (degraded mode) and in tests.
type Checkpointer struct {
	mu          sync.RWMutex
	checkpoints map[string]*models.Checkpoint
}

// NewCheckpointer creates an in-memory checkpointer.
func NewCheckpointer() *Checkpointer {
	return &Checkpointer{
		checkpoints: make(map[string]*models.Checkpoint),
	}
}

var _ repositories.Checkpointer = (*Checkpointer)(nil)

// Put stores a copy of the snapshot under the thread id.
func (c *Checkpointer) Put(ctx context.Context, threadID string, snapshot []byte, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := make([]byte, len(snapshot))
	copy(snap, snapshot)
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	version := 1
	if prev, ok := c.checkpoints[threadID]; ok {
		version = prev.Version["snapshot"] + 1
	}
	c.checkpoints[threadID] = &models.Checkpoint{
		ThreadID:  threadID,
		Snapshot:  snap,
		Metadata:  meta,
		Version:   map[string]int{"snapshot": version},
		UpdatedAt: time.Now(),
	}
	return nil
}

// Get returns the stored checkpoint, or domain.ErrCheckpointNotFound.
func (c *Checkpointer) Get(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.checkpoints[threadID]
	if !ok {
		return nil, domain.ErrCheckpointNotFound
	}

	out := *cp
	out.Snapshot = make([]byte, len(cp.Snapshot))
	copy(out.Snapshot, cp.Snapshot)
	return &out, nil
}

// Delete removes the checkpoint for the thread id. Deleting an unknown id
// is a no-op.
func (c *Checkpointer) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checkpoints, threadID)
	return nil
}

// HealthCheck always succeeds for the in-memory backend.
func (c *Checkpointer) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}
