package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/provider"
	"quorum/internal/repository/memory"
	"quorum/internal/similarity"
)

// stubEmbedder returns fixed vectors per text, so similarity scores in
// tests are exact.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, kind provider.EmbeddingKind) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return nil, fmt.Errorf("no stub vector for %q", text)
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, vectors map[string][]float32, threshold float64) *SemanticCache {
	t.Helper()
	sim := similarity.NewService(&stubEmbedder{vectors: vectors}, testLogger())
	return New(memory.NewCacheStore(), sim, Config{
		Namespace: "test",
		Threshold: threshold,
	}, testLogger())
}

func TestSemanticCacheExactHit(t *testing.T) {
	c := newTestCache(t, map[string][]float32{
		"should we expand to Europe": {1, 0, 0},
	}, 0.9)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "should we expand to Europe", json.RawMessage(`{"answer":42}`)))

	payload, found, err := c.Lookup(ctx, "should we expand to Europe")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"answer":42}`, string(payload))
}

func TestSemanticCacheSimilarHit(t *testing.T) {
	c := newTestCache(t, map[string][]float32{
		"stored": {1, 0, 0},
		"close":  {0.96, 0.28, 0}, // cos ~0.96
		"far":    {0, 1, 0},
	}, 0.9)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "stored", json.RawMessage(`"v"`)))

	_, found, err := c.Lookup(ctx, "close")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = c.Lookup(ctx, "far")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSemanticCacheBestMatchWins(t *testing.T) {
	c := newTestCache(t, map[string][]float32{
		"weak":   {0.92, 0.39, 0}, // cos ~0.92 vs query
		"strong": {1, 0, 0},
		"query":  {1, 0, 0},
	}, 0.9)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "weak", json.RawMessage(`"weak"`)))
	require.NoError(t, c.Store(ctx, "strong", json.RawMessage(`"strong"`)))

	payload, found, err := c.Lookup(ctx, "query")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `"strong"`, string(payload))
}

func TestSemanticCacheFailsOpenOnEmbedError(t *testing.T) {
	c := newTestCache(t, map[string][]float32{}, 0.9)

	// No stub vector: embedding fails, lookup must degrade to a miss with
	// a nil error.
	payload, found, err := c.Lookup(context.Background(), "unembeddable")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, payload)
}

func TestSemanticCacheHitRate(t *testing.T) {
	c := newTestCache(t, map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
	}, 0.9)
	ctx := context.Background()

	assert.Zero(t, c.HitRate())

	require.NoError(t, c.Store(ctx, "a", json.RawMessage(`1`)))

	_, found, _ := c.Lookup(ctx, "a")
	require.True(t, found)
	_, found, _ = c.Lookup(ctx, "b")
	require.False(t, found)

	assert.InDelta(t, 0.5, c.HitRate(), 1e-9)
}

func TestContentKeyDeterministic(t *testing.T) {
	assert.Equal(t, ContentKey("same"), ContentKey("same"))
	assert.NotEqual(t, ContentKey("same"), ContentKey("different"))
	assert.Len(t, ContentKey("same"), 64)
}
