package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/paperpilot/internal/cache"
	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/metrics"
)

const (
	defaultTopK = 20
	maxTopK     = 100
)

// SearchEventStore records one row per search.
type SearchEventStore interface {
	Create(ctx context.Context, ev *domain.SearchEvent) error
}

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	DefaultTopK int
	ResultTTL   time.Duration
}

// SearchService runs the retrieve, rank and personalize pipeline.
type SearchService struct {
	extractor   *KeywordExtractor
	aggregator  *Aggregator
	gateway     *EmbeddingGateway
	ranking     *RankingEngine
	personalize *PersonalizationEngine
	events      SearchEventStore
	cache       *cache.ResultCache
	defaultTopK int
	resultTTL   time.Duration
}

// NewSearchService creates a new search service.
// Parameters:
//   - extractor: keyword extractor for the raw query.
//   - aggregator: multi-source candidate retrieval.
//   - gateway: query embedding gateway.
//   - ranking: ranking engine.
//   - personalize: optional personalization engine.
//   - events: optional search event log.
//   - resultCache: query-level result cache.
//   - cfg: search configuration settings.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	extractor *KeywordExtractor,
	aggregator *Aggregator,
	gateway *EmbeddingGateway,
	ranking *RankingEngine,
	personalize *PersonalizationEngine,
	events SearchEventStore,
	resultCache *cache.ResultCache,
	cfg *SearchConfig,
) *SearchService {
	topK := defaultTopK
	ttl := time.Hour
	if cfg != nil {
		if cfg.DefaultTopK > 0 {
			topK = min(cfg.DefaultTopK, maxTopK)
		}
		if cfg.ResultTTL > 0 {
			ttl = cfg.ResultTTL
		}
	}
	return &SearchService{
		extractor:   extractor,
		aggregator:  aggregator,
		gateway:     gateway,
		ranking:     ranking,
		personalize: personalize,
		events:      events,
		cache:       resultCache,
		defaultTopK: topK,
		resultTTL:   ttl,
	}
}

// SearchRequest represents a paper search request.
type SearchRequest struct {
	Query  string `json:"query" form:"q"`
	UserID string `json:"user_id,omitempty" form:"user_id"`
	TopK   int    `json:"top_k,omitempty" form:"top_k"`
	// Personalize defaults to true; false opts a known user out.
	Personalize *bool    `json:"personalize,omitempty" form:"personalize"`
	Sources     []string `json:"sources,omitempty" form:"sources"`
}

func (r *SearchRequest) wantsPersonalization() bool {
	return r.UserID != "" && (r.Personalize == nil || *r.Personalize)
}

// SearchResponse represents the search response.
type SearchResponse struct {
	Query        string                `json:"query"`
	Keywords     domain.KeywordPayload `json:"keywords"`
	TotalFound   int                   `json:"total_found"`
	Returned     int                   `json:"returned"`
	Papers       []domain.ScoredPaper  `json:"papers"`
	ResponseTime float64               `json:"response_time"`
	Personalized bool                  `json:"personalized"`
}

// rankedPage is the cached unit of a query: the ranked list plus the number
// of candidates it was drawn from.
type rankedPage struct {
	Candidates int                  `json:"candidates"`
	Papers     []domain.ScoredPaper `json:"papers"`
}

// Search executes the full pipeline for one query. Collaborator failures
// degrade the result instead of failing the request; only an empty query is
// rejected.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", domain.ErrInvalidInput)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	topK = min(topK, maxTopK)

	start := time.Now()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "search",
		logger.FieldUserID:    req.UserID,
	})

	payload := s.extractor.Extract(ctx, query)

	var page rankedPage
	if s.cache == nil {
		page = s.rank(ctx, query, payload, req, topK)
	} else {
		key := queryCacheKey(query, payload, topK, req.Sources)
		var err error
		page, err = cache.GetOrCompute(ctx, s.cache, key, s.resultTTL, func(ctx context.Context) (rankedPage, error) {
			return s.rank(ctx, query, payload, req, topK), nil
		})
		if err != nil {
			return nil, err
		}
	}

	papers := page.Papers
	personalized := false
	if req.wantsPersonalization() && s.personalize != nil && s.personalize.HasProfile(ctx, req.UserID) {
		papers = s.personalize.Personalize(ctx, req.UserID, scoredToPapers(papers), topK)
		personalized = true
	}
	if papers == nil {
		papers = []domain.ScoredPaper{}
	}

	elapsed := time.Since(start)
	resp := &SearchResponse{
		Query:        query,
		Keywords:     payload,
		TotalFound:   page.Candidates,
		Returned:     len(papers),
		Papers:       papers,
		ResponseTime: elapsed.Seconds(),
		Personalized: personalized,
	}

	s.recordEvent(ctx, req.UserID, resp)
	metrics.ObserveSearch(elapsed, personalized)

	logger.With(logger.Fields{
		logger.FieldCount: resp.Returned,
		"candidates":      resp.TotalFound,
		"personalized":    personalized,
	}).WithDuration(start).Info(ctx, "Search completed: query=%q", query)
	return resp, nil
}

func (s *SearchService) rank(ctx context.Context, query string, payload domain.KeywordPayload, req *SearchRequest, topK int) rankedPage {
	candidates := s.aggregator.Retrieve(ctx, query, payload, &UserContext{UserID: req.UserID, Sources: req.Sources})
	if len(candidates) == 0 {
		return rankedPage{Papers: []domain.ScoredPaper{}}
	}
	queryVector := s.gateway.EmbedQuery(ctx, query)
	return rankedPage{
		Candidates: len(candidates),
		Papers:     s.ranking.Rank(ctx, query, queryVector, candidates, topK),
	}
}

func (s *SearchService) recordEvent(ctx context.Context, userID string, resp *SearchResponse) {
	if s.events == nil {
		return
	}
	ev := &domain.SearchEvent{
		UserID:            userID,
		Query:             resp.Query,
		ExtractedKeywords: resp.Keywords,
		ResultIDs:         domain.PaperIDs(resp.Papers),
		ResultCount:       resp.Returned,
		ResponseTime:      resp.ResponseTime,
	}
	if err := s.events.Create(ctx, ev); err != nil {
		logger.CtxWarn(ctx, "Failed to record search event: error=%v", err)
	}
}

// queryCacheKey extends cache.QueryKey with the page size and the requested
// sources, lowercased and sorted.
func queryCacheKey(query string, payload domain.KeywordPayload, topK int, sources []string) string {
	norm := make([]string, 0, len(sources))
	for _, src := range sources {
		if src = strings.ToLower(strings.TrimSpace(src)); src != "" {
			norm = append(norm, src)
		}
	}
	sort.Strings(norm)
	return cache.QueryKey(query, payload) + ":" + strconv.Itoa(topK) + ":" + strings.Join(norm, ",")
}

func scoredToPapers(scored []domain.ScoredPaper) []domain.Paper {
	out := make([]domain.Paper, len(scored))
	for i := range scored {
		out[i] = scored[i].Paper
	}
	return out
}
