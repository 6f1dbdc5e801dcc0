package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"quorum/internal/domain/repositories"
	"quorum/internal/similarity"
)

const (
	datasetNamespace        = "datasets"
	datasetDefaultThreshold = 0.6
	datasetTTL              = 7 * 24 * time.Hour
)

// DatasetMatch is the cached payload of a dataset-similarity lookup: the
// matched dataset plus the column overlap with the querying dataset. The
// overlap is computed separately from the embedding comparison, by
// case-insensitive set intersection of column names.
type DatasetMatch struct {
	DatasetID     string   `json:"dataset_id"`
	Columns       []string `json:"columns,omitempty"`
	SharedColumns []string `json:"shared_columns,omitempty"`
}

// DatasetSimilarityCache finds previously analyzed datasets whose metadata
// is semantically close to a new one (threshold configurable, default 0.6,
// TTL 7 days).
type DatasetSimilarityCache struct {
	inner  *SemanticCache
	logger *slog.Logger
}

// NewDatasetSimilarityCache creates the dataset instance of the semantic
// cache. A non-positive threshold selects the default.
func NewDatasetSimilarityCache(store repositories.CacheStore, sim *similarity.Service, threshold float64, logger *slog.Logger) *DatasetSimilarityCache {
	if threshold <= 0 {
		threshold = datasetDefaultThreshold
	}
	cfg := Config{
		Namespace: datasetNamespace,
		Threshold: threshold,
		TTL:       datasetTTL,
	}
	return &DatasetSimilarityCache{
		inner:  New(store, sim, cfg, logger),
		logger: logger,
	}
}

// Lookup returns the closest previously analyzed dataset for the metadata
// text, with SharedColumns filled in against the caller's columns.
func (c *DatasetSimilarityCache) Lookup(ctx context.Context, metadataText string, columns []string) (*DatasetMatch, bool) {
	payload, found, _ := c.inner.Lookup(ctx, metadataText)
	if !found {
		return nil, false
	}
	var match DatasetMatch
	if err := json.Unmarshal(payload, &match); err != nil {
		c.logger.Warn("dataset cache payload unreadable, treating as miss", "error", err)
		return nil, false
	}
	match.SharedColumns = SharedColumns(columns, match.Columns)
	return &match, true
}

// Store caches a dataset id and its column set under its metadata text.
func (c *DatasetSimilarityCache) Store(ctx context.Context, metadataText, datasetID string, columns []string) {
	payload, err := json.Marshal(DatasetMatch{DatasetID: datasetID, Columns: columns})
	if err != nil {
		c.logger.Warn("dataset match not serializable, not cached", "error", err)
		return
	}
	_ = c.inner.Store(ctx, metadataText, payload)
}

// HitRate exposes the underlying cache hit rate.
func (c *DatasetSimilarityCache) HitRate() float64 {
	return c.inner.HitRate()
}

// SharedColumns returns the case-insensitive intersection of two column
// name sets, preserving the casing and order of the first set.
func SharedColumns(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(b))
	for _, col := range b {
		seen[strings.ToLower(col)] = struct{}{}
	}
	var shared []string
	for _, col := range a {
		if _, ok := seen[strings.ToLower(col)]; ok {
			shared = append(shared, col)
		}
	}
	return shared
}
