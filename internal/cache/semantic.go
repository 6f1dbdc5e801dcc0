// Package cache implements the semantic cache: a similarity-threshold
// lookup over embedded keys used to avoid recomputing expensive operations
// across sessions. The generic algorithm is instantiated three ways:
// participant selection, research dedup/consolidation, and dataset
// similarity.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
	"quorum/internal/provider"
	"quorum/internal/similarity"
)

// Config is the per-instance policy of a semantic cache.
type Config struct {
	Namespace string
	Threshold float64
	TTL       time.Duration
}

// SemanticCache answers "has a semantically equivalent request already been
// computed?". Lookups embed the key text and linearly scan the namespace -
// candidate sets are bounded (hundreds to low thousands), so a full vector
// index is deliberately out of scope.
type SemanticCache struct {
	store  repositories.CacheStore
	sim    *similarity.Service
	cfg    Config
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a semantic cache instance over the shared store.
func New(store repositories.CacheStore, sim *similarity.Service, cfg Config, logger *slog.Logger) *SemanticCache {
	return &SemanticCache{
		store:  store,
		sim:    sim,
		cfg:    cfg,
		logger: logger.With("cache", cfg.Namespace),
	}
}

// Lookup returns the payload of the best stored entry whose similarity to
// the key text meets the threshold. On tie the first-seen best wins
// (insertion order of the backing store).
//
// The cache fails open: embedding or store failures are logged and reported
// as a miss with a nil error, so the caller's primary computation is never
// blocked by cache unavailability.
func (c *SemanticCache) Lookup(ctx context.Context, keyText string) (json.RawMessage, bool, error) {
	// Exact-text fast path.
	if entry, err := c.store.GetExact(ctx, c.cfg.Namespace, ContentKey(keyText)); err == nil && entry != nil && !entry.Expired(time.Now()) {
		c.hits.Add(1)
		c.logger.Debug("semantic cache exact hit", "key_text_len", len(keyText))
		return entry.Payload, true, nil
	}

	queryVec, err := c.sim.Embed(ctx, keyText, provider.EmbeddingKindQuery)
	if err != nil {
		c.logger.Warn("cache lookup embed failed, failing open as miss", "error", err)
		c.misses.Add(1)
		return nil, false, nil
	}

	entries, err := c.store.Scan(ctx, c.cfg.Namespace)
	if err != nil {
		c.logger.Warn("cache scan failed, failing open as miss", "error", err)
		c.misses.Add(1)
		return nil, false, nil
	}

	var (
		best      *models.CacheEntry
		bestScore float64
	)
	for i := range entries {
		score, err := similarity.CosineSimilarity(queryVec, entries[i].Embedding)
		if err != nil {
			// Dimension drift across provider changes; skip the entry.
			c.logger.Warn("skipping incomparable cache entry", "key", entries[i].Key, "error", err)
			continue
		}
		// Strictly greater keeps the first-seen best on ties.
		if score >= c.cfg.Threshold && (best == nil || score > bestScore) {
			best = &entries[i]
			bestScore = score
		}
	}

	if best == nil {
		c.misses.Add(1)
		c.logger.Debug("semantic cache miss", "scanned", len(entries))
		return nil, false, nil
	}

	c.hits.Add(1)
	c.logger.Debug("semantic cache hit", "similarity", bestScore, "scanned", len(entries))
	return best.Payload, true, nil
}

// Store persists a computed payload under the key text, embedding it with
// the document kind. Store failures are logged and absorbed: a lost cache
// write only costs a future recomputation.
func (c *SemanticCache) Store(ctx context.Context, keyText string, payload json.RawMessage) error {
	vec, err := c.sim.Embed(ctx, keyText, provider.EmbeddingKindDocument)
	if err != nil {
		c.logger.Warn("cache store embed failed, entry not cached", "error", err)
		return nil
	}

	entry := &models.CacheEntry{
		Key:       ContentKey(keyText),
		Embedding: vec,
		Payload:   payload,
		CreatedAt: time.Now(),
		TTL:       c.cfg.TTL,
	}
	if err := c.store.Append(ctx, c.cfg.Namespace, entry); err != nil {
		c.logger.Warn("cache append failed, entry not cached", "error", err)
		return nil
	}
	return nil
}

// HitRate returns hits/(hits+misses), 0 when no lookups have happened.
func (c *SemanticCache) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// ContentKey derives the deterministic store key from the lookup text. The
// key is a content hash, not the embedding, so exact-text lookups stay
// cheap alongside similarity search.
func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
