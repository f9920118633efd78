package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/metrics"
	"github.com/timmy/paperpilot/internal/vectorindex"
)

// RankingConfig holds the ranking thresholds.
type RankingConfig struct {
	PrefilterLimit int
	MinRelevance   float64
}

// RankingEngine narrows candidates by embedding similarity, then asks the
// re-ranker to score them. It falls back to citation order whenever the
// re-ranker is missing or fails.
type RankingEngine struct {
	reranker Reranker
	cfg      RankingConfig
}

// NewRankingEngine creates a ranking engine. reranker may be nil.
func NewRankingEngine(reranker Reranker, cfg RankingConfig) *RankingEngine {
	if cfg.PrefilterLimit <= 0 {
		cfg.PrefilterLimit = 50
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = 6.0
	}
	return &RankingEngine{reranker: reranker, cfg: cfg}
}

// Rank returns at most topK scored papers.
func (e *RankingEngine) Rank(ctx context.Context, queryText string, queryVector []float32, candidates []domain.Paper, topK int) []domain.ScoredPaper {
	if len(candidates) == 0 || topK <= 0 {
		return []domain.ScoredPaper{}
	}

	pool := e.prefilter(queryVector, candidates)

	results, err := e.rerank(ctx, queryText, pool)
	var ranked []domain.ScoredPaper
	if err == nil {
		ranked, err = e.applyResults(pool, results, topK)
	}
	if err != nil {
		metrics.RerankFallbacks.Inc()
		logger.With(logger.Fields{
			logger.FieldFallback: "citations",
			logger.FieldCount:    len(pool),
		}).Warn(ctx, "Re-ranking unavailable: %v", err)
		return citationFallback(pool, topK)
	}
	return ranked
}

// prefilter keeps the PrefilterLimit candidates closest to the query vector.
// Smaller pools are returned unchanged.
func (e *RankingEngine) prefilter(q []float32, candidates []domain.Paper) []domain.Paper {
	if len(candidates) <= e.cfg.PrefilterLimit {
		return candidates
	}

	type scored struct {
		paper domain.Paper
		sim   float64
	}
	zeroQuery := vectorindex.IsZero(q)
	items := make([]scored, len(candidates))
	for i := range candidates {
		sim := 0.0
		if !zeroQuery && candidates[i].HasEmbedding() {
			sim = vectorindex.CosineSimilarity(q, candidates[i].Vector())
		}
		items[i] = scored{paper: candidates[i], sim: sim}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].sim != items[j].sim {
			return items[i].sim > items[j].sim
		}
		return lessByCitations(&items[i].paper, &items[j].paper)
	})

	out := make([]domain.Paper, e.cfg.PrefilterLimit)
	for i := range out {
		out[i] = items[i].paper
	}
	return out
}

// rerank calls the re-ranker, turning a panic into an error.
func (e *RankingEngine) rerank(ctx context.Context, queryText string, pool []domain.Paper) (results []RerankResult, err error) {
	if e.reranker == nil {
		return nil, fmt.Errorf("%w: no re-ranker configured", domain.ErrProviderUnavailable)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: re-ranker panicked: %v", domain.ErrProviderUnavailable, r)
		}
	}()

	summaries := make([]CandidateSummary, len(pool))
	for i := range pool {
		summaries[i] = SummarizeCandidate(&pool[i])
	}
	return e.reranker.Rerank(ctx, queryText, summaries)
}

// applyResults validates the re-ranker output against the pool: bad indexes,
// out-of-range scores, duplicates and low scores are dropped. A non-empty
// reply in which no entry survives validation is malformed.
func (e *RankingEngine) applyResults(pool []domain.Paper, results []RerankResult, topK int) ([]domain.ScoredPaper, error) {
	seen := make(map[int]struct{}, len(results))
	out := make([]domain.ScoredPaper, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(pool) {
			continue
		}
		if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 10 {
			continue
		}
		if _, dup := seen[r.Index]; dup {
			continue
		}
		seen[r.Index] = struct{}{}
		if r.Score < e.cfg.MinRelevance {
			continue
		}
		out = append(out, domain.ScoredPaper{
			Paper:                pool[r.Index],
			RelevanceScore:       r.Score,
			RecommendationReason: domain.TruncateReason(r.Reason),
		})
	}
	if len(results) > 0 && len(seen) == 0 {
		return nil, fmt.Errorf("%w: no re-ranker entry references a candidate", domain.ErrMalformedResponse)
	}
	sortScored(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// citationFallback orders by citation count and scores each paper
// min(citations/10, 10).
func citationFallback(pool []domain.Paper, topK int) []domain.ScoredPaper {
	sorted := append([]domain.Paper(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessByCitations(&sorted[i], &sorted[j])
	})
	if len(sorted) > topK {
		sorted = sorted[:topK]
	}

	out := make([]domain.ScoredPaper, len(sorted))
	for i, p := range sorted {
		out[i] = domain.ScoredPaper{
			Paper:                p,
			RelevanceScore:       math.Min(float64(p.CitationCount)/10, 10),
			RecommendationReason: fmt.Sprintf("Ranked by citation count (%d citations)", p.CitationCount),
		}
	}
	return out
}

// lessByCitations orders by citation count descending, then id ascending.
func lessByCitations(a, b *domain.Paper) bool {
	if a.CitationCount != b.CitationCount {
		return a.CitationCount > b.CitationCount
	}
	return a.ID < b.ID
}

// sortScored orders by score descending, then citations, then id.
func sortScored(ps []domain.ScoredPaper) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].RelevanceScore != ps[j].RelevanceScore {
			return ps[i].RelevanceScore > ps[j].RelevanceScore
		}
		return lessByCitations(&ps[i].Paper, &ps[j].Paper)
	})
}
