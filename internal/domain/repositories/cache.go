package repositories

import (
	"context"

	"quorum/internal/domain/models"
)

// CacheStore is the append-mostly backing store shared by all semantic
// cache instances, partitioned by namespace. Scan returns live (unexpired)
// entries in insertion order, which the cache relies on for its
// first-seen-best tie rule.
//
// Writes are best-effort read-check-then-write without a transactional
// guarantee: two sessions may both compute and append near-duplicate
// entries under race. That is an accepted tradeoff, not a bug; the cache
// only ever over-computes, never corrupts.
type CacheStore interface {
	Append(ctx context.Context, namespace string, entry *models.CacheEntry) error
	Scan(ctx context.Context, namespace string) ([]models.CacheEntry, error)
	GetExact(ctx context.Context, namespace, key string) (*models.CacheEntry, error)
}
