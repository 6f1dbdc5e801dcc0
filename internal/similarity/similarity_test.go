package similarity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/domain"
	"quorum/internal/provider"
)

type stubEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, kind provider.EmbeddingKind) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("no stub vector for %q", text)
}

func (s *stubEmbedder) Dimensions() int { return s.dims }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"zero magnitude", []float32{0, 0, 0}, []float32{1, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	require.Error(t, err)

	var mismatch *domain.DimensionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 2, mismatch.LenA)
	assert.Equal(t, 3, mismatch.LenB)
}

func TestServiceEmbedEmptyText(t *testing.T) {
	svc := NewService(&stubEmbedder{dims: 3}, testLogger())

	_, err := svc.Embed(context.Background(), "   ", provider.EmbeddingKindQuery)
	require.Error(t, err)

	var embedErr *domain.EmbeddingError
	assert.ErrorAs(t, err, &embedErr)
}

func TestServiceEmbedBatchPartialFailure(t *testing.T) {
	svc := NewService(&stubEmbedder{
		dims: 3,
		vectors: map[string][]float32{
			"known": {1, 0, 0},
		},
	}, testLogger())

	vecs := svc.EmbedBatch(context.Background(), []string{"known", "unknown", "known"}, provider.EmbeddingKindDocument)
	require.Len(t, vecs, 3)
	assert.NotNil(t, vecs[0])
	assert.Nil(t, vecs[1])
	assert.NotNil(t, vecs[2])
}
