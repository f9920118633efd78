package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/prompts"
)

const (
	summaryAbstractRunes = 300
	summaryKeywords      = 10
	summaryAuthors       = 3
)

// CandidateSummary is the compact view of a paper sent to the re-ranker.
type CandidateSummary struct {
	Title         string   `json:"title"`
	Abstract      string   `json:"abstract"`
	Keywords      []string `json:"keywords"`
	Authors       []string `json:"authors"`
	Journal       string   `json:"journal"`
	PublishDate   string   `json:"publish_date"`
	CitationCount int      `json:"citation_count"`
}

// SummarizeCandidate builds the summary of p.
func SummarizeCandidate(p *domain.Paper) CandidateSummary {
	s := CandidateSummary{
		Title:         p.Title,
		Abstract:      truncateRunes(normalizeWhitespace(p.Abstract), summaryAbstractRunes),
		Journal:       p.Journal,
		CitationCount: p.CitationCount,
	}
	kws := []string(p.Keywords)
	if len(kws) > summaryKeywords {
		kws = kws[:summaryKeywords]
	}
	s.Keywords = append([]string{}, kws...)
	for i, a := range p.Authors {
		if i == summaryAuthors {
			break
		}
		s.Authors = append(s.Authors, a.Name)
	}
	if p.PublishDate != nil {
		s.PublishDate = p.PublishDate.Format("2006-01-02")
	}
	return s
}

// RerankResult scores one candidate. Index is zero-based into the slice
// passed to Rerank.
type RerankResult struct {
	Index  int
	Score  float64
	Reason string
}

// Reranker scores candidates against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []CandidateSummary) ([]RerankResult, error)
}

// LLMRerankerConfig holds configuration for the LLM re-ranker.
type LLMRerankerConfig struct {
	MinRelevance     float64
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// LLMReranker asks the chat model to score candidates. Calls go through a
// circuit breaker that opens after consecutive failures.
type LLMReranker struct {
	llm          ChatCompleter
	minRelevance float64
	breaker      *gobreaker.CircuitBreaker[[]RerankResult]
}

// NewLLMReranker creates a new LLM re-ranker.
func NewLLMReranker(llm ChatCompleter, cfg LLMRerankerConfig) *LLMReranker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = 6.0
	}

	settings := gobreaker.Settings{
		Name:        "llm-reranker",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.GetDefault().WithFields(logger.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &LLMReranker{
		llm:          llm,
		minRelevance: cfg.MinRelevance,
		breaker:      gobreaker.NewCircuitBreaker[[]RerankResult](settings),
	}
}

// State reports the breaker state, e.g. for health output.
func (r *LLMReranker) State() string {
	return r.breaker.State().String()
}

type rerankReply struct {
	RecommendedPapers *[]rerankEntry `json:"recommended_papers"`
}

type rerankEntry struct {
	PaperIndex     *int     `json:"paper_index"`
	RelevanceScore *float64 `json:"relevance_score"`
	Reason         string   `json:"reason"`
}

// Rerank implements Reranker. While the circuit is open it fails fast with
// domain.ErrProviderUnavailable.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []CandidateSummary) ([]RerankResult, error) {
	results, err := r.breaker.Execute(func() ([]RerankResult, error) {
		return r.rerank(ctx, query, candidates)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewProviderError("reranker", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err))
	}
	return results, err
}

func (r *LLMReranker) rerank(ctx context.Context, query string, candidates []CandidateSummary) ([]RerankResult, error) {
	blocks := make([]prompts.CandidateBlock, len(candidates))
	for i, c := range candidates {
		blocks[i] = prompts.CandidateBlock{
			Title:         c.Title,
			Abstract:      c.Abstract,
			Keywords:      c.Keywords,
			Authors:       c.Authors,
			Journal:       c.Journal,
			PublishDate:   c.PublishDate,
			CitationCount: c.CitationCount,
		}
	}

	content, err := r.llm.Complete(ctx, []ChatMessage{
		{Role: "system", Content: prompts.RerankSystemPrompt},
		{Role: "user", Content: prompts.RerankPrompt(query, blocks, r.minRelevance)},
	}, ChatOptions{MaxTokens: 4000, Temperature: 0.2})
	if err != nil {
		return nil, err
	}

	var reply rerankReply
	if err := decodeJSONReply(content, &reply); err != nil {
		return nil, domain.NewProviderError("reranker", err)
	}

	if reply.RecommendedPapers == nil {
		return nil, domain.NewProviderError("reranker",
			fmt.Errorf("%w: reply has no recommended_papers", domain.ErrMalformedResponse))
	}

	entries := *reply.RecommendedPapers
	results := make([]RerankResult, 0, len(entries))
	for i, rec := range entries {
		if rec.PaperIndex == nil || rec.RelevanceScore == nil {
			return nil, domain.NewProviderError("reranker",
				fmt.Errorf("%w: entry %d lacks paper_index or relevance_score", domain.ErrMalformedResponse, i))
		}
		results = append(results, RerankResult{
			Index:  *rec.PaperIndex - 1,
			Score:  *rec.RelevanceScore,
			Reason: rec.Reason,
		})
	}
	return results, nil
}
