// Package similarity provides the embedding wrapper and cosine similarity
// primitive used by the semantic cache, quality metrics, and deduplication.
package similarity

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"quorum/internal/domain"
	"quorum/internal/provider"
)

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value in [-1, 1]. Returns 0 when either vector has zero
// magnitude - never divides by zero.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &domain.DimensionMismatchError{LenA: len(a), LenB: len(b)}
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// Service wraps the embedding provider with input validation and typed
// errors. All embedding failures surface as *domain.EmbeddingError so call
// sites can uniformly fail open.
type Service struct {
	embedder provider.Embedder
	logger   *slog.Logger
}

// NewService creates a similarity service.
func NewService(embedder provider.Embedder, logger *slog.Logger) *Service {
	return &Service{embedder: embedder, logger: logger}
}

// Dimensions returns the embedding dimensionality of the underlying
// provider.
func (s *Service) Dimensions() int {
	return s.embedder.Dimensions()
}

// Embed generates an embedding for the text. Empty text and provider
// failures yield *domain.EmbeddingError - recoverable by contract.
func (s *Service) Embed(ctx context.Context, text string, kind provider.EmbeddingKind) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &domain.EmbeddingError{Message: "cannot embed empty text"}
	}

	vec, err := s.embedder.Embed(ctx, text, kind)
	if err != nil {
		var embErr *domain.EmbeddingError
		if errors.As(err, &embErr) {
			return nil, err
		}
		return nil, &domain.EmbeddingError{Message: "provider embed failed", Err: err}
	}
	return vec, nil
}

// EmbedBatch embeds each text, returning a vector per input. A nil vector
// marks an individual failure; the batch itself never fails, matching the
// fail-open policy for semantic operations.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, kind provider.EmbeddingKind) [][]float32 {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t, kind)
		if err != nil {
			s.logger.Warn("batch embed failed for item",
				"index", i,
				"error", err,
			)
			continue
		}
		vecs[i] = vec
	}
	return vecs
}
