package vectorindex

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() MemoryOption {
	return WithRand(rand.New(rand.NewSource(42)))
}

func mustUpsert(t *testing.T, idx Index, e Entry) {
	t.Helper()
	require.NoError(t, idx.Upsert(context.Background(), e))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestMemoryIndex_EmptyIndex(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()

	got, err := idx.Nearest(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	clusters, err := idx.Cluster(ctx, []string{"a"}, 3)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestMemoryIndex_NearestOrderingAndTieBreak(t *testing.T) {
	idx := NewMemoryIndex(2)
	mustUpsert(t, idx, Entry{PaperID: "b", Vector: []float32{1, 0}, CitationCount: 5})
	mustUpsert(t, idx, Entry{PaperID: "a", Vector: []float32{2, 0}, CitationCount: 5})
	mustUpsert(t, idx, Entry{PaperID: "c", Vector: []float32{3, 0}, CitationCount: 9})
	mustUpsert(t, idx, Entry{PaperID: "d", Vector: []float32{0, 1}, CitationCount: 100})

	got, err := idx.Nearest(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].PaperID, got[1].PaperID, got[2].PaperID})
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
}

func TestMemoryIndex_NearestIsIdempotent(t *testing.T) {
	idx := NewMemoryIndex(3)
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 40; i++ {
		mustUpsert(t, idx, Entry{
			PaperID:       string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Vector:        []float32{r.Float32(), r.Float32(), r.Float32()},
			CitationCount: i % 3,
		})
	}
	q := []float32{0.3, 0.2, 0.9}
	first, err := idx.Nearest(context.Background(), q, 10, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := idx.Nearest(context.Background(), q, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMemoryIndex_ZeroVectorMeansAbsent(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	mustUpsert(t, idx, Entry{PaperID: "a", Vector: []float32{1, 1}})

	got, err := idx.Nearest(ctx, []float32{0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	mustUpsert(t, idx, Entry{PaperID: "a", Vector: []float32{0, 0}})
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, 2, stats.Dimension)
}

func TestMemoryIndex_UpsertRejectsWrongDimension(t *testing.T) {
	idx := NewMemoryIndex(3)
	assert.Error(t, idx.Upsert(context.Background(), Entry{PaperID: "a", Vector: []float32{1, 0}}))
}

func TestMemoryIndex_NearestFilters(t *testing.T) {
	idx := NewMemoryIndex(2)
	old := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mustUpsert(t, idx, Entry{PaperID: "old", Vector: []float32{1, 0}, Source: "arxiv", PublishDate: &old, CitationCount: 500})
	mustUpsert(t, idx, Entry{PaperID: "new", Vector: []float32{1, 0.1}, Source: "arxiv", PublishDate: &recent, CitationCount: 3})
	mustUpsert(t, idx, Entry{PaperID: "undated", Vector: []float32{1, 0.2}, Source: "openalex"})

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		f    *Filters
		want []string
	}{
		{"no filter", nil, []string{"old", "new", "undated"}},
		{"from date drops old and undated", &Filters{From: &since}, []string{"new"}},
		{"source", &Filters{Source: "openalex"}, []string{"undated"}},
		{"min citations", &Filters{MinCitations: 10}, []string{"old"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.Nearest(context.Background(), []float32{1, 0}, 10, tt.f)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, m := range got {
				ids[i] = m.PaperID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryIndex_SimilarTo(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	mustUpsert(t, idx, Entry{PaperID: "anchor", Vector: []float32{1, 0}})
	mustUpsert(t, idx, Entry{PaperID: "close", Vector: []float32{1, 0.1}})
	mustUpsert(t, idx, Entry{PaperID: "far", Vector: []float32{0, 1}})

	got, err := idx.SimilarTo(ctx, "anchor", 5, 0.8)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "close", got[0].PaperID)

	got, err = idx.SimilarTo(ctx, "missing", 5, 0.8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryIndex_ClusterSeparatesGroups(t *testing.T) {
	idx := NewMemoryIndex(2, seeded())
	ids := []string{"a1", "a2", "a3", "b1", "b2", "b3"}
	vecs := [][]float32{{0, 0.1}, {0.1, 0}, {0.1, 0.1}, {10, 10}, {10, 10.1}, {10.1, 10}}
	for i, id := range ids {
		mustUpsert(t, idx, Entry{PaperID: id, Vector: vecs[i]})
	}

	clusters, err := idx.Cluster(context.Background(), append(ids, "unknown"), 2)
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	var groups [][]string
	for _, members := range clusters {
		groups = append(groups, members)
	}
	assert.ElementsMatch(t, [][]string{{"a1", "a2", "a3"}, {"b1", "b2", "b3"}}, groups)
}

func TestMemoryIndex_ClusterDegenerate(t *testing.T) {
	idx := NewMemoryIndex(2, seeded())
	mustUpsert(t, idx, Entry{PaperID: "a", Vector: []float32{1, 0}})
	mustUpsert(t, idx, Entry{PaperID: "b", Vector: []float32{0, 1}})

	clusters, err := idx.Cluster(context.Background(), []string{"a", "b"}, 5)
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{0: {"a", "b"}}, clusters)

	clusters, err = idx.Cluster(context.Background(), []string{"a"}, 1)
	require.NoError(t, err)
	assert.Equal(t, map[int][]string{0: {"a"}}, clusters)
}
