package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quorum/internal/domain"
	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
)

// Checkpointer stores one current checkpoint row per thread id. Snapshot
// and metadata are opaque blobs; the backend never interprets
// session-state fields.
type Checkpointer struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger

	setupMu   sync.Mutex
	setupDone bool
}

// NewCheckpointer creates a postgres-backed checkpointer.
func NewCheckpointer(pool *pgxpool.Pool, tables *TableNames, logger *slog.Logger) *Checkpointer {
	return &Checkpointer{pool: pool, tables: tables, logger: logger}
}

var _ repositories.Checkpointer = (*Checkpointer)(nil)

// EnsureSchema creates the checkpoint table if missing. Safe to call
// multiple times; setup failure is logged as a warning, not fatal, and
// subsequent calls skip re-setup once it has succeeded.
func (c *Checkpointer) EnsureSchema(ctx context.Context) {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()
	if c.setupDone {
		return
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			thread_id TEXT PRIMARY KEY,
			snapshot BYTEA NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			version JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, c.tables.Checkpoints)

	if _, err := c.pool.Exec(ctx, query); err != nil {
		c.logger.Warn("checkpoint schema setup failed, relying on existing schema",
			"table", c.tables.Checkpoints,
			"error", err,
		)
		return
	}
	c.setupDone = true
}

// Put upserts the current checkpoint for the thread id.
func (c *Checkpointer) Put(ctx context.Context, threadID string, snapshot []byte, metadata map[string]string) error {
	c.EnsureSchema(ctx)

	if metadata == nil {
		metadata = map[string]string{}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, snapshot, metadata, version, updated_at)
		VALUES ($1, $2, $3, '{"snapshot": 1}', $4)
		ON CONFLICT (thread_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			metadata = EXCLUDED.metadata,
			version = jsonb_set(%s.version, '{snapshot}',
				(COALESCE((%s.version->>'snapshot')::int, 0) + 1)::text::jsonb),
			updated_at = EXCLUDED.updated_at
	`, c.tables.Checkpoints, c.tables.Checkpoints, c.tables.Checkpoints)

	if _, err := c.pool.Exec(ctx, query, threadID, snapshot, metadata, time.Now()); err != nil {
		return &domain.StorageError{Backend: "postgres", Op: "put", Err: err}
	}
	return nil
}

// Get returns the current checkpoint, or domain.ErrCheckpointNotFound.
func (c *Checkpointer) Get(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	c.EnsureSchema(ctx)

	query := fmt.Sprintf(`
		SELECT thread_id, snapshot, metadata, version, updated_at
		FROM %s
		WHERE thread_id = $1
	`, c.tables.Checkpoints)

	var cp models.Checkpoint
	err := c.pool.QueryRow(ctx, query, threadID).Scan(
		&cp.ThreadID,
		&cp.Snapshot,
		&cp.Metadata,
		&cp.Version,
		&cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, &domain.StorageError{Backend: "postgres", Op: "get", Err: err}
	}
	return &cp, nil
}

// Delete removes the checkpoint for the thread id.
func (c *Checkpointer) Delete(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, c.tables.Checkpoints)
	if _, err := c.pool.Exec(ctx, query, threadID); err != nil {
		return &domain.StorageError{Backend: "postgres", Op: "delete", Err: err}
	}
	return nil
}

// HealthCheck pings the database.
func (c *Checkpointer) HealthCheck(ctx context.Context) error {
	return c.pool.Ping(ctx)
}
