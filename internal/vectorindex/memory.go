package vectorindex

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MemoryIndex is an exact in-process index.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]Entry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// MemoryOption customizes a MemoryIndex.
type MemoryOption func(*MemoryIndex)

// WithRand sets the source used to seed k-means centroids.
func WithRand(rng *rand.Rand) MemoryOption {
	return func(m *MemoryIndex) { m.rng = rng }
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dimension int, opts ...MemoryOption) *MemoryIndex {
	m := &MemoryIndex{
		dimension: dimension,
		entries:   make(map[string]Entry),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryIndex) Upsert(_ context.Context, e Entry) error {
	if e.PaperID == "" {
		return fmt.Errorf("upsert: empty paper id")
	}
	if IsZero(e.Vector) {
		m.mu.Lock()
		delete(m.entries, e.PaperID)
		m.mu.Unlock()
		return nil
	}
	if len(e.Vector) != m.dimension {
		return fmt.Errorf("upsert %s: vector dimension %d, want %d", e.PaperID, len(e.Vector), m.dimension)
	}

	e.Vector = append([]float32(nil), e.Vector...)
	m.mu.Lock()
	m.entries[e.PaperID] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Nearest(_ context.Context, q []float32, k int, f *Filters) ([]Match, error) {
	if k <= 0 || IsZero(q) {
		return []Match{}, nil
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for id, e := range m.entries {
		if !f.accepts(&e) {
			continue
		}
		matches = append(matches, Match{
			PaperID:       id,
			Score:         CosineSimilarity(q, e.Vector),
			CitationCount: e.CitationCount,
		})
	}
	m.mu.RUnlock()

	SortMatches(matches)
	return truncate(matches, k), nil
}

func (m *MemoryIndex) SimilarTo(_ context.Context, paperID string, k int, threshold float64) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	anchor, ok := m.entries[paperID]
	if !ok {
		m.mu.RUnlock()
		return []Match{}, nil
	}
	matches := make([]Match, 0)
	for id, e := range m.entries {
		if id == paperID {
			continue
		}
		score := CosineSimilarity(anchor.Vector, e.Vector)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{PaperID: id, Score: score, CitationCount: e.CitationCount})
	}
	m.mu.RUnlock()

	SortMatches(matches)
	return truncate(matches, k), nil
}

func (m *MemoryIndex) Cluster(_ context.Context, paperIDs []string, n int) (map[int][]string, error) {
	ids := make([]string, 0, len(paperIDs))
	vectors := make([][]float32, 0, len(paperIDs))
	seen := make(map[string]bool, len(paperIDs))

	m.mu.RLock()
	for _, id := range paperIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if e, ok := m.entries[id]; ok {
			ids = append(ids, id)
			vectors = append(vectors, e.Vector)
		}
	}
	m.mu.RUnlock()

	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return KMeans(ids, vectors, n, m.rng), nil
}

func (m *MemoryIndex) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Count: len(m.entries), Dimension: m.dimension}, nil
}
