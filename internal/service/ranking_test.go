package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/paperpilot/internal/domain"
)

func rankingCandidates() []domain.Paper {
	return []domain.Paper{
		newPaper("p1", "Knowledge Graph Embedding", nil, 40, nil),
		newPaper("p2", "Protein Folding", nil, 250, nil),
		newPaper("p3", "Knowledge Graph Reasoning", nil, 5, nil),
		newPaper("p4", "Vision Models", nil, 40, nil),
	}
}

// assertCitationOrder checks the top three of rankingCandidates by citations.
func assertCitationOrder(t *testing.T, got []domain.ScoredPaper) {
	t.Helper()
	require.Equal(t, []string{"p2", "p1", "p4"}, ids(got))
	assert.Equal(t, 10.0, got[0].RelevanceScore)
	assert.Equal(t, 4.0, got[1].RelevanceScore)
	assert.Equal(t, "Ranked by citation count (250 citations)", got[0].RecommendationReason)
}

func TestRankingEngine_UsesRerankerScores(t *testing.T) {
	engine := NewRankingEngine(titleReranker("knowledge graph"), RankingConfig{})

	got := engine.Rank(context.Background(), "knowledge graph", nil, rankingCandidates(), 10)
	// equal scores fall back to citations, then id
	require.Equal(t, []string{"p1", "p3"}, ids(got))
	for _, sp := range got {
		assert.GreaterOrEqual(t, sp.RelevanceScore, 6.0)
		assert.LessOrEqual(t, sp.RelevanceScore, 10.0)
	}
}

func TestRankingEngine_FallbackOnRerankerFailure(t *testing.T) {
	tests := []struct {
		name     string
		reranker Reranker
	}{
		{"nil reranker", nil},
		{"reranker error", &fakeReranker{err: domain.NewProviderError("reranker", domain.ErrProviderUnavailable)}},
		{"reranker panic", &fakeReranker{fn: func(int, CandidateSummary) (float64, string) { panic("boom") }}},
		{"no entry references a candidate", staticReranker{{Index: -1, Score: 9}, {Index: 12, Score: 8}}},
		{"no entry has a usable score", staticReranker{{Index: 0, Score: math.NaN()}, {Index: 1, Score: 42}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewRankingEngine(tt.reranker, RankingConfig{})
			assertCitationOrder(t, engine.Rank(context.Background(), "q", nil, rankingCandidates(), 3))
		})
	}
}

func TestRankingEngine_FallbackOnMalformedLLMReply(t *testing.T) {
	replies := map[string]string{
		"empty object":          `{}`,
		"unrelated keys":        `{"foo": 1}`,
		"entry without fields":  `{"recommended_papers":[{"reason":"missing index and score"}]}`,
		"entry without score":   `{"recommended_papers":[{"paper_index":1,"reason":"no score"}]}`,
		"every index too large": `{"recommended_papers":[{"paper_index":99,"relevance_score":9,"reason":"x"}]}`,
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			reranker := NewLLMReranker(&fakeLLM{replies: []string{reply}}, LLMRerankerConfig{})
			engine := NewRankingEngine(reranker, RankingConfig{})
			assertCitationOrder(t, engine.Rank(context.Background(), "q", nil, rankingCandidates(), 3))
		})
	}
}

func TestRankingEngine_EmptyRecommendationListIsNotMalformed(t *testing.T) {
	reranker := NewLLMReranker(&fakeLLM{replies: []string{`{"recommended_papers": []}`}}, LLMRerankerConfig{})
	engine := NewRankingEngine(reranker, RankingConfig{})

	got := engine.Rank(context.Background(), "q", nil, rankingCandidates(), 3)
	assert.Empty(t, got)
}

func TestRankingEngine_DropsInvalidResults(t *testing.T) {
	results := []RerankResult{
		{Index: -1, Score: 9},
		{Index: 7, Score: 9},
		{Index: 0, Score: 11},
		{Index: 1, Score: math.NaN()},
		{Index: 2, Score: 7, Reason: strings.Repeat("x", 400)},
		{Index: 2, Score: 9.5},
		{Index: 3, Score: 5.9},
	}
	engine := NewRankingEngine(staticReranker(results), RankingConfig{MinRelevance: 6})

	got := engine.Rank(context.Background(), "q", nil, rankingCandidates(), 10)
	require.Len(t, got, 1)
	assert.Equal(t, "p3", got[0].ID)
	assert.Equal(t, 7.0, got[0].RelevanceScore, "first valid entry for an index wins")
	assert.LessOrEqual(t, len([]rune(got[0].RecommendationReason)), domain.MaxReasonLength)
}

func TestRankingEngine_PrefilterKeepsClosest(t *testing.T) {
	var candidates []domain.Paper
	for i := 0; i < 6; i++ {
		v := []float32{float32(i), 1}
		candidates = append(candidates, withVector(newPaper(fmt.Sprintf("p%d", i), fmt.Sprintf("Paper %d", i), nil, 0, nil), v))
	}
	var seen []string
	reranker := &fakeReranker{fn: func(_ int, c CandidateSummary) (float64, string) {
		seen = append(seen, c.Title)
		return 8, "ok"
	}}
	engine := NewRankingEngine(reranker, RankingConfig{PrefilterLimit: 2})

	engine.Rank(context.Background(), "q", []float32{1, 0}, candidates, 10)
	assert.Equal(t, []string{"Paper 5", "Paper 4"}, seen)
}

func TestRankingEngine_EmptyInput(t *testing.T) {
	engine := NewRankingEngine(titleReranker("x"), RankingConfig{})
	assert.Empty(t, engine.Rank(context.Background(), "q", nil, nil, 5))
	assert.Empty(t, engine.Rank(context.Background(), "q", nil, rankingCandidates(), 0))
}

type staticReranker []RerankResult

func (s staticReranker) Rerank(context.Context, string, []CandidateSummary) ([]RerankResult, error) {
	return s, nil
}
