package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"quorum/internal/domain/models"
	"quorum/internal/domain/repositories"
	"quorum/internal/similarity"
)

const (
	participantNamespace = "participants"
	participantThreshold = 0.90
	participantTTL       = 7 * 24 * time.Hour
)

// ParticipantSelectionCache caches selected expert rosters keyed by the
// problem goal text. Near-identical goals (similarity >= 0.90, TTL 7 days)
// reuse the prior roster instead of re-running selection.
type ParticipantSelectionCache struct {
	inner  *SemanticCache
	logger *slog.Logger
}

// NewParticipantSelectionCache creates the participant-selection instance
// of the semantic cache.
func NewParticipantSelectionCache(store repositories.CacheStore, sim *similarity.Service, logger *slog.Logger) *ParticipantSelectionCache {
	cfg := Config{
		Namespace: participantNamespace,
		Threshold: participantThreshold,
		TTL:       participantTTL,
	}
	return &ParticipantSelectionCache{
		inner:  New(store, sim, cfg, logger),
		logger: logger,
	}
}

// Lookup returns a previously selected roster for a semantically similar
// goal, or found=false.
func (c *ParticipantSelectionCache) Lookup(ctx context.Context, goal string) ([]models.Persona, bool) {
	payload, found, _ := c.inner.Lookup(ctx, goal)
	if !found {
		return nil, false
	}

	var roster []models.Persona
	if err := json.Unmarshal(payload, &roster); err != nil {
		c.logger.Warn("participant cache payload unreadable, treating as miss", "error", err)
		return nil, false
	}
	if len(roster) == 0 {
		return nil, false
	}
	return roster, true
}

// Store caches the selected roster under the goal text.
func (c *ParticipantSelectionCache) Store(ctx context.Context, goal string, roster []models.Persona) {
	payload, err := json.Marshal(roster)
	if err != nil {
		c.logger.Warn("participant roster not serializable, not cached", "error", err)
		return
	}
	_ = c.inner.Store(ctx, goal, payload)
}

// HitRate exposes the underlying cache hit rate.
func (c *ParticipantSelectionCache) HitRate() float64 {
	return c.inner.HitRate()
}
