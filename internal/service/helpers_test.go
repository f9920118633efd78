package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/repository"
)

// testVocabulary maps each known token to one embedding dimension.
var testVocabulary = []string{
	"knowledge", "graph", "reasoning", "embedding",
	"protein", "folding", "structure", "biology",
	"language", "model", "vision", "other",
}

const testDim = 12

// vocabEmbedder is a deterministic bag-of-words embedder over testVocabulary.
type vocabEmbedder struct {
	calls atomic.Int64
	err   error
}

func (e *vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, testDim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		for i, w := range testVocabulary {
			if tok == w {
				v[i]++
			}
		}
	}
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		v[testDim-1] = 1
		return v, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

// fakeConnector serves fixed papers.
type fakeConnector struct {
	name    string
	papers  []domain.Paper
	err     error
	delay   time.Duration
	panics  bool
	fetches atomic.Int64
	queries atomic.Int64
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) FetchLatest(ctx context.Context, _ int) ([]domain.Paper, error) {
	c.fetches.Add(1)
	return c.serve(ctx)
}

func (c *fakeConnector) Search(ctx context.Context, _ []string, _ int) ([]domain.Paper, error) {
	c.queries.Add(1)
	return c.serve(ctx)
}

func (c *fakeConnector) serve(ctx context.Context) ([]domain.Paper, error) {
	if c.panics {
		panic("connector exploded")
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, domain.NewSourceError(c.name, c.err)
	}
	return append([]domain.Paper(nil), c.papers...), nil
}

// fakeReranker scores candidates with fn.
type fakeReranker struct {
	fn    func(i int, c CandidateSummary) (float64, string)
	err   error
	calls atomic.Int64
}

func (r *fakeReranker) Rerank(_ context.Context, _ string, candidates []CandidateSummary) ([]RerankResult, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	out := make([]RerankResult, 0, len(candidates))
	for i, c := range candidates {
		score, reason := r.fn(i, c)
		out = append(out, RerankResult{Index: i, Score: score, Reason: reason})
	}
	return out, nil
}

// titleReranker scores 8.5 when the title contains want and 3 otherwise.
func titleReranker(want string) *fakeReranker {
	return &fakeReranker{fn: func(_ int, c CandidateSummary) (float64, string) {
		if strings.Contains(strings.ToLower(c.Title), strings.ToLower(want)) {
			return 8.5, "Directly addresses " + want
		}
		return 3, "Unrelated"
	}}
}

// fakeLLM replays canned completions.
type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (f *fakeLLM) Complete(_ context.Context, _ []ChatMessage, _ ChatOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, repository.Migrate(db, false), "migrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func daysAgo(n int) *time.Time {
	t := time.Now().UTC().AddDate(0, 0, -n)
	return &t
}

func newPaper(id, title string, keywords []string, citations int, published *time.Time) domain.Paper {
	return domain.Paper{
		ID:            id,
		Title:         title,
		Abstract:      title + ".",
		Keywords:      keywords,
		Source:        domain.SourceLocal,
		CitationCount: citations,
		PublishDate:   published,
	}
}

func withVector(p domain.Paper, v []float32) domain.Paper {
	p.SetVector(v)
	return p
}

func ids(papers []domain.ScoredPaper) []string {
	return domain.PaperIDs(papers)
}
