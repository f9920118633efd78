// Package vectorindex stores paper embeddings and answers similarity and
// clustering queries over them.
package vectorindex

import (
	"context"
	"sort"
	"time"

	"github.com/timmy/paperpilot/internal/domain"
)

// Entry is one stored vector with the paper attributes used for filtering.
type Entry struct {
	PaperID       string
	Vector        []float32
	Source        string
	PublishDate   *time.Time
	CitationCount int
}

// EntryFromPaper builds the index entry for p. The vector is empty when p
// has no embedding.
func EntryFromPaper(p *domain.Paper) Entry {
	return Entry{
		PaperID:       p.ID,
		Vector:        p.Vector(),
		Source:        p.Source,
		PublishDate:   p.PublishDate,
		CitationCount: p.CitationCount,
	}
}

// Match is a similarity hit.
type Match struct {
	PaperID       string  `json:"paper_id"`
	Score         float64 `json:"score"`
	CitationCount int     `json:"citation_count"`
}

// Filters narrows Nearest. Zero values mean "no constraint".
type Filters struct {
	Source       string
	From         *time.Time
	To           *time.Time
	MinCitations int
}

func (f *Filters) accepts(e *Entry) bool {
	if f == nil {
		return true
	}
	if f.Source != "" && f.Source != e.Source {
		return false
	}
	if e.CitationCount < f.MinCitations {
		return false
	}
	if f.From != nil || f.To != nil {
		if e.PublishDate == nil {
			return false
		}
		if f.From != nil && e.PublishDate.Before(*f.From) {
			return false
		}
		if f.To != nil && e.PublishDate.After(*f.To) {
			return false
		}
	}
	return true
}

// Stats summarizes index contents.
type Stats struct {
	Count     int `json:"count"`
	Dimension int `json:"dimension"`
}

// Index is the vector store used by retrieval, similarity lookup and trend
// clustering.
type Index interface {
	// Upsert replaces any prior entry for e.PaperID. A zero vector removes it.
	Upsert(ctx context.Context, e Entry) error
	// Nearest returns up to k entries ordered by cosine similarity to q.
	Nearest(ctx context.Context, q []float32, k int, f *Filters) ([]Match, error)
	// SimilarTo returns up to k neighbours of a stored paper, excluding the
	// paper itself and anything below threshold.
	SimilarTo(ctx context.Context, paperID string, k int, threshold float64) ([]Match, error)
	// Cluster groups the stored vectors of paperIDs into at most n clusters.
	Cluster(ctx context.Context, paperIDs []string, n int) (map[int][]string, error)
	Stats(ctx context.Context) (Stats, error)
}

// SortMatches orders by score descending, then citation count descending,
// then paper id ascending.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		if ms[i].CitationCount != ms[j].CitationCount {
			return ms[i].CitationCount > ms[j].CitationCount
		}
		return ms[i].PaperID < ms[j].PaperID
	})
}

func truncate(ms []Match, k int) []Match {
	if len(ms) > k {
		return ms[:k]
	}
	return ms
}
