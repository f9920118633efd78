package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/paperpilot/internal/repository"
)

type fakePointStore struct {
	points  map[string]repository.PaperPoint
	deleted []string
	filter  *repository.PointFilter
	hits    []repository.PointHit
}

func newFakePointStore() *fakePointStore {
	return &fakePointStore{points: make(map[string]repository.PaperPoint)}
}

func (f *fakePointStore) UpsertPoint(_ context.Context, p repository.PaperPoint) error {
	f.points[p.PaperID] = p
	return nil
}

func (f *fakePointStore) DeletePoint(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.points, id)
	return nil
}

func (f *fakePointStore) SearchPoints(_ context.Context, _ []float32, limit int, filter *repository.PointFilter) ([]repository.PointHit, error) {
	f.filter = filter
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakePointStore) GetPoints(_ context.Context, ids []string) ([]repository.PaperPoint, error) {
	var out []repository.PaperPoint
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePointStore) CountPoints(context.Context) (uint64, error) {
	return uint64(len(f.points)), nil
}

func TestQdrantIndex_UpsertZeroVectorDeletes(t *testing.T) {
	store := newFakePointStore()
	idx := NewQdrantIndex(store, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, Entry{PaperID: "p1", Vector: []float32{1, 0}, CitationCount: 4}))
	assert.Equal(t, 4, store.points["p1"].CitationCount)

	require.NoError(t, idx.Upsert(ctx, Entry{PaperID: "p1", Vector: []float32{0, 0}}))
	assert.Equal(t, []string{"p1"}, store.deleted)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Count: 0, Dimension: 2}, stats)
}

func TestQdrantIndex_NearestResortsTies(t *testing.T) {
	store := newFakePointStore()
	store.hits = []repository.PointHit{
		{PaperID: "z", Score: 0.9, CitationCount: 1},
		{PaperID: "b", Score: 0.9, CitationCount: 7},
		{PaperID: "a", Score: 0.9, CitationCount: 7},
		{PaperID: "top", Score: 0.95},
	}
	idx := NewQdrantIndex(store, 2)

	got, err := idx.Nearest(context.Background(), []float32{1, 0}, 10, &Filters{Source: "arxiv"})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.PaperID
	}
	assert.Equal(t, []string{"top", "a", "b", "z"}, ids)
	require.NotNil(t, store.filter)
	assert.Equal(t, "arxiv", store.filter.Source)
}

func TestQdrantIndex_SimilarToExcludesAnchor(t *testing.T) {
	store := newFakePointStore()
	store.points["anchor"] = repository.PaperPoint{PaperID: "anchor", Vector: []float32{1, 0}}
	store.hits = []repository.PointHit{
		{PaperID: "anchor", Score: 1},
		{PaperID: "near", Score: 0.85},
		{PaperID: "weak", Score: 0.5},
	}
	idx := NewQdrantIndex(store, 2)

	got, err := idx.SimilarTo(context.Background(), "anchor", 5, 0.8)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].PaperID)

	got, err = idx.SimilarTo(context.Background(), "unknown", 5, 0.8)
	require.NoError(t, err)
	assert.Empty(t, got)
}
