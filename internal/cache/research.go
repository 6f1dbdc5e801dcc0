package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"quorum/internal/domain/repositories"
	"quorum/internal/provider"
	"quorum/internal/similarity"
)

const (
	researchNamespace = "research"

	// Cross-session dedup: a stored result this close to a new query is
	// reused outright.
	researchDedupThreshold = 0.85

	// Same-session consolidation: pending questions this close to each
	// other are merged into one external query.
	researchConsolidationThreshold = 0.75
)

// ResearchResult is the cached payload of an executed research query.
type ResearchResult struct {
	Query  string  `json:"query"`
	Result string  `json:"result"`
	Cost   float64 `json:"cost"`
}

// ResearchCache deduplicates external research across sessions and
// consolidates near-duplicate pending questions within a session into
// single batched queries.
type ResearchCache struct {
	inner  *SemanticCache
	sim    *similarity.Service
	logger *slog.Logger
}

// NewResearchCache creates the research instance of the semantic cache.
// Entries carry no TTL: research stays valid for the life of the store.
func NewResearchCache(store repositories.CacheStore, sim *similarity.Service, logger *slog.Logger) *ResearchCache {
	cfg := Config{
		Namespace: researchNamespace,
		Threshold: researchDedupThreshold,
		TTL:       0,
	}
	return &ResearchCache{
		inner:  New(store, sim, cfg, logger),
		sim:    sim,
		logger: logger,
	}
}

// Lookup returns a previously executed result for a semantically equivalent
// query, or found=false.
func (c *ResearchCache) Lookup(ctx context.Context, query string) (*ResearchResult, bool) {
	payload, found, _ := c.inner.Lookup(ctx, query)
	if !found {
		return nil, false
	}
	var res ResearchResult
	if err := json.Unmarshal(payload, &res); err != nil {
		c.logger.Warn("research cache payload unreadable, treating as miss", "error", err)
		return nil, false
	}
	return &res, true
}

// Store caches an executed research result under its query text.
func (c *ResearchCache) Store(ctx context.Context, query string, res *ResearchResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("research result not serializable, not cached", "error", err)
		return
	}
	_ = c.inner.Store(ctx, query, payload)
}

// HitRate exposes the underlying cache hit rate.
func (c *ResearchCache) HitRate() float64 {
	return c.inner.HitRate()
}

// Batch is one consolidated group of near-duplicate questions that will be
// answered by a single external query.
type Batch struct {
	// Queries are the original questions in the batch, in input order.
	Queries []string
	// Merged is the combined query text sent to the external collaborator.
	Merged string
}

// FanOut distributes one external result back to every grouped question,
// splitting the cost evenly.
func (b *Batch) FanOut(result string, totalCost float64) []ResearchResult {
	out := make([]ResearchResult, len(b.Queries))
	per := totalCost
	if len(b.Queries) > 0 {
		per = totalCost / float64(len(b.Queries))
	}
	for i, q := range b.Queries {
		out[i] = ResearchResult{Query: q, Result: result, Cost: per}
	}
	return out
}

// Consolidate groups near-duplicate pending questions into batches before
// execution. Greedy clustering: for each unclustered question, every
// not-yet-assigned question at or above the consolidation threshold joins
// its batch; merged text is an "and" join of the grouped questions.
//
// Fails open: a question whose embedding cannot be computed becomes its own
// batch so no research request is ever silently dropped.
func (c *ResearchCache) Consolidate(ctx context.Context, queries []string) []Batch {
	if len(queries) == 0 {
		return nil
	}
	if len(queries) == 1 {
		return []Batch{{Queries: queries, Merged: queries[0]}}
	}

	vecs := c.sim.EmbedBatch(ctx, queries, provider.EmbeddingKindQuery)

	assigned := make([]bool, len(queries))
	var batches []Batch
	for i := range queries {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []string{queries[i]}

		if vecs[i] != nil {
			for j := i + 1; j < len(queries); j++ {
				if assigned[j] || vecs[j] == nil {
					continue
				}
				score, err := similarity.CosineSimilarity(vecs[i], vecs[j])
				if err != nil {
					continue
				}
				if score >= researchConsolidationThreshold {
					assigned[j] = true
					group = append(group, queries[j])
				}
			}
		}

		batches = append(batches, Batch{
			Queries: group,
			Merged:  strings.Join(group, " and "),
		})
	}

	if len(batches) < len(queries) {
		c.logger.Info("consolidated research queries",
			"original", len(queries),
			"batches", len(batches),
		)
	}
	return batches
}
