package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quorum/internal/domain"
	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
)

const cacheKeyPrefix = "quorum:cache:"

// CacheStore is the redis-backed semantic cache store shared across
// processes. Each namespace keeps an insertion-order index list alongside
// per-entry keys; entry keys expire with their TTL, expired entries are
// simply skipped on scan (the index is append-mostly by design).
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a redis cache store over an existing client.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

var _ repositories.CacheStore = (*CacheStore)(nil)

func indexKey(namespace string) string {
	return fmt.Sprintf("%s%s:index", cacheKeyPrefix, namespace)
}

func entryKey(namespace, key string) string {
	return fmt.Sprintf("%s%s:entry:%s", cacheKeyPrefix, namespace, key)
}

// Append stores the entry under its content key and records it in the
// namespace index. No read-check guard: concurrent sessions may append
// near-duplicates, which the cache tolerates.
func (s *CacheStore) Append(ctx context.Context, namespace string, entry *models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return &domain.StorageError{Backend: "redis", Op: "cache append", Err: err}
	}

	var ttl time.Duration
	if entry.TTL > 0 {
		ttl = entry.TTL
	}
	if err := s.client.Set(ctx, entryKey(namespace, entry.Key), data, ttl).Err(); err != nil {
		return &domain.StorageError{Backend: "redis", Op: "cache append", Err: err}
	}
	if err := s.client.RPush(ctx, indexKey(namespace), entry.Key).Err(); err != nil {
		return &domain.StorageError{Backend: "redis", Op: "cache append", Err: err}
	}
	return nil
}

// Scan returns live entries in insertion order, skipping expired ones.
func (s *CacheStore) Scan(ctx context.Context, namespace string) ([]models.CacheEntry, error) {
	keys, err := s.client.LRange(ctx, indexKey(namespace), 0, -1).Result()
	if err != nil {
		return nil, &domain.StorageError{Backend: "redis", Op: "cache scan", Err: err}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	entryKeys := make([]string, len(keys))
	for i, k := range keys {
		entryKeys[i] = entryKey(namespace, k)
	}
	values, err := s.client.MGet(ctx, entryKeys...).Result()
	if err != nil {
		return nil, &domain.StorageError{Backend: "redis", Op: "cache scan", Err: err}
	}

	out := make([]models.CacheEntry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired entry; its index slot stays behind.
			continue
		}
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetExact returns the live entry under the exact content key, or
// domain.ErrNotFound.
func (s *CacheStore) GetExact(ctx context.Context, namespace, key string) (*models.CacheEntry, error) {
	data, err := s.client.Get(ctx, entryKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StorageError{Backend: "redis", Op: "cache get", Err: err}
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, &domain.StorageError{Backend: "redis", Op: "cache get", Err: err}
	}
	return &entry, nil
}
