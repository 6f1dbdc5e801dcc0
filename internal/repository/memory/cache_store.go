package memory

import (
	"context"
	"sync"
	"time"

	"quorum/internal/domain"
	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
)

// CacheStore is the in-memory semantic cache store. The store is shared
// across concurrent sessions; reads take only a read lock over the
// append-mostly slice, writes append without any read-check guard (the
// documented best-effort race tradeoff).
type CacheStore struct {
	mu         sync.RWMutex
	namespaces map[string][]models.CacheEntry
	byKey      map[string]map[string]int // namespace -> key -> slice index
}

// NewCacheStore creates an in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		namespaces: make(map[string][]models.CacheEntry),
		byKey:      make(map[string]map[string]int),
	}
}

var _ repositories.CacheStore = (*CacheStore)(nil)

// Append adds an entry at the end of the namespace.
func (s *CacheStore) Append(ctx context.Context, namespace string, entry *models.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[namespace] = append(s.namespaces[namespace], *entry)
	if s.byKey[namespace] == nil {
		s.byKey[namespace] = make(map[string]int)
	}
	s.byKey[namespace][entry.Key] = len(s.namespaces[namespace]) - 1
	return nil
}

// Scan returns live entries in insertion order.
func (s *CacheStore) Scan(ctx context.Context, namespace string) ([]models.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	entries := s.namespaces[namespace]
	out := make([]models.CacheEntry, 0, len(entries))
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetExact returns the live entry stored under the exact content key, or
// domain.ErrNotFound.
func (s *CacheStore) GetExact(ctx context.Context, namespace, key string) (*models.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[namespace][key]
	if !ok || idx >= len(s.namespaces[namespace]) {
		return nil, domain.ErrNotFound
	}
	entry := s.namespaces[namespace][idx]
	if entry.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}
