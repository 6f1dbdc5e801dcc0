package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/repository/memory"
	"quorum/internal/similarity"
)

func TestSharedColumns(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{
			name: "case insensitive intersection keeps caller casing",
			a:    []string{"UserID", "Revenue", "signup_date"},
			b:    []string{"userid", "REVENUE", "churn"},
			want: []string{"UserID", "Revenue"},
		},
		{
			name: "no overlap",
			a:    []string{"a", "b"},
			b:    []string{"c"},
			want: nil,
		},
		{
			name: "empty side",
			a:    nil,
			b:    []string{"a"},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SharedColumns(tt.a, tt.b))
		})
	}
}

func TestDatasetSimilarityCacheLookup(t *testing.T) {
	sim := similarity.NewService(&stubEmbedder{vectors: map[string][]float32{
		"quarterly sales by region": {1, 0, 0},
		"regional sales figures":    {0.8, 0.6, 0}, // cos 0.8 vs stored
		"employee headcount":        {0, 1, 0},
	}}, testLogger())
	c := NewDatasetSimilarityCache(memory.NewCacheStore(), sim, 0, testLogger())
	ctx := context.Background()

	c.Store(ctx, "quarterly sales by region", "ds-001", []string{"Region", "Quarter", "Sales"})

	match, found := c.Lookup(ctx, "regional sales figures", []string{"region", "sales", "margin"})
	require.True(t, found)
	assert.Equal(t, "ds-001", match.DatasetID)
	assert.Equal(t, []string{"region", "sales"}, match.SharedColumns)

	_, found = c.Lookup(ctx, "employee headcount", nil)
	assert.False(t, found)
}
