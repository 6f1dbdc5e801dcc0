package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is one stored (embedding, payload) pair in a semantic cache
// namespace. Key is a content hash of the original lookup text, which
// allows an exact-text fast path alongside similarity search.
type CacheEntry struct {
	Key       string          `json:"key"`
	Embedding []float32       `json:"embedding"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl,omitempty"`
}

// Expired reports whether the entry has outlived its TTL. A zero TTL means
// the entry never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}
