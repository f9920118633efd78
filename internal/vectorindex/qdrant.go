package vectorindex

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/timmy/paperpilot/internal/repository"
)

// PointStore is the subset of repository.QdrantRepository the index needs.
type PointStore interface {
	UpsertPoint(ctx context.Context, p repository.PaperPoint) error
	DeletePoint(ctx context.Context, paperID string) error
	SearchPoints(ctx context.Context, vector []float32, limit int, filter *repository.PointFilter) ([]repository.PointHit, error)
	GetPoints(ctx context.Context, paperIDs []string) ([]repository.PaperPoint, error)
	CountPoints(ctx context.Context) (uint64, error)
}

// QdrantIndex serves the Index contract from a Qdrant collection.
type QdrantIndex struct {
	store     PointStore
	dimension int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewQdrantIndex wraps store.
func NewQdrantIndex(store PointStore, dimension int) *QdrantIndex {
	return &QdrantIndex{
		store:     store,
		dimension: dimension,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (q *QdrantIndex) Upsert(ctx context.Context, e Entry) error {
	if IsZero(e.Vector) {
		return q.store.DeletePoint(ctx, e.PaperID)
	}
	return q.store.UpsertPoint(ctx, repository.PaperPoint{
		PaperID:       e.PaperID,
		Vector:        e.Vector,
		Source:        e.Source,
		PublishDate:   e.PublishDate,
		CitationCount: e.CitationCount,
	})
}

func (q *QdrantIndex) Nearest(ctx context.Context, v []float32, k int, f *Filters) ([]Match, error) {
	if k <= 0 || IsZero(v) {
		return []Match{}, nil
	}
	var pf *repository.PointFilter
	if f != nil {
		pf = &repository.PointFilter{Source: f.Source, From: f.From, To: f.To, MinCitations: f.MinCitations}
	}
	hits, err := q.store.SearchPoints(ctx, v, k, pf)
	if err != nil {
		return nil, err
	}
	return toMatches(hits, "", -1), nil
}

func (q *QdrantIndex) SimilarTo(ctx context.Context, paperID string, k int, threshold float64) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	anchors, err := q.store.GetPoints(ctx, []string{paperID})
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 || IsZero(anchors[0].Vector) {
		return []Match{}, nil
	}
	// One extra slot for the anchor itself.
	hits, err := q.store.SearchPoints(ctx, anchors[0].Vector, k+1, nil)
	if err != nil {
		return nil, err
	}
	return truncate(toMatches(hits, paperID, threshold), k), nil
}

func (q *QdrantIndex) Cluster(ctx context.Context, paperIDs []string, n int) (map[int][]string, error) {
	points, err := q.store.GetPoints(ctx, paperIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[string][]float32, len(points))
	for _, p := range points {
		if !IsZero(p.Vector) {
			byID[p.PaperID] = p.Vector
		}
	}
	ids := make([]string, 0, len(byID))
	vectors := make([][]float32, 0, len(byID))
	for _, id := range paperIDs {
		if v, ok := byID[id]; ok {
			ids = append(ids, id)
			vectors = append(vectors, v)
			delete(byID, id)
		}
	}

	q.rngMu.Lock()
	defer q.rngMu.Unlock()
	return KMeans(ids, vectors, n, q.rng), nil
}

func (q *QdrantIndex) Stats(ctx context.Context) (Stats, error) {
	n, err := q.store.CountPoints(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Count: int(n), Dimension: q.dimension}, nil
}

func toMatches(hits []repository.PointHit, exclude string, threshold float64) []Match {
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		if h.PaperID == exclude || float64(h.Score) < threshold {
			continue
		}
		out = append(out, Match{PaperID: h.PaperID, Score: float64(h.Score), CitationCount: h.CitationCount})
	}
	SortMatches(out)
	return out
}
