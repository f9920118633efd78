package service

import (
	"context"
	"strings"
	"time"

	"github.com/timmy/paperpilot/internal/cache"
	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/prompts"
)

const (
	maxKeywordsPerList   = 5
	maxExtractQueryRunes = 500
)

// KeywordExtractor turns a free-text query into a KeywordPayload using the
// LLM, falling back to the raw query on any failure.
type KeywordExtractor struct {
	llm   ChatCompleter
	cache *cache.ResultCache
	ttl   time.Duration
}

// NewKeywordExtractor creates an extractor. A nil llm always yields the
// fallback payload; a nil cache disables memoization.
func NewKeywordExtractor(llm ChatCompleter, resultCache *cache.ResultCache, ttl time.Duration) *KeywordExtractor {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeywordExtractor{llm: llm, cache: resultCache, ttl: ttl}
}

// Extract never fails. Successful extractions are cached; fallbacks are not.
func (e *KeywordExtractor) Extract(ctx context.Context, query string) domain.KeywordPayload {
	query = strings.TrimSpace(query)
	if e.llm == nil || query == "" || len([]rune(query)) > maxExtractQueryRunes {
		return domain.FallbackKeywordPayload(query)
	}

	compute := func(ctx context.Context) (domain.KeywordPayload, error) {
		return e.extract(ctx, query)
	}

	var (
		payload domain.KeywordPayload
		err     error
	)
	if e.cache != nil {
		payload, err = cache.GetOrCompute(ctx, e.cache, cache.KeywordKey(query), e.ttl, compute)
	} else {
		payload, err = compute(ctx)
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Keyword extraction failed, using raw query")
		return domain.FallbackKeywordPayload(query)
	}
	return payload
}

func (e *KeywordExtractor) extract(ctx context.Context, query string) (domain.KeywordPayload, error) {
	content, err := e.llm.Complete(ctx, []ChatMessage{
		{Role: "system", Content: prompts.KeywordExtractionSystemPrompt},
		{Role: "user", Content: prompts.KeywordExtractionPrompt(query)},
	}, ChatOptions{MaxTokens: 500, Temperature: 0.3})
	if err != nil {
		return domain.KeywordPayload{}, err
	}

	var payload domain.KeywordPayload
	if err := decodeJSONReply(content, &payload); err != nil {
		return domain.KeywordPayload{}, domain.NewProviderError("llm", err)
	}
	return validateAndFix(payload, query), nil
}

// validateAndFix clamps the payload to the accepted shape.
func validateAndFix(p domain.KeywordPayload, originalQuery string) domain.KeywordPayload {
	// 1. Keyword lists
	p.CoreKeywordsZh = capList(p.CoreKeywordsZh)
	p.CoreKeywordsEn = capList(p.CoreKeywordsEn)
	p.ExtendedKeywords = capList(p.ExtendedKeywords)
	if len(p.CoreKeywordsZh) == 0 && len(p.CoreKeywordsEn) == 0 {
		p.CoreKeywordsZh = []string{originalQuery}
	}

	// 2. Time range
	if !p.TimeRange.Valid() {
		p.TimeRange = domain.TimeRangeRecent5Years
	}

	// 3. Preferred types
	p.PreferredTypes = capList(p.PreferredTypes)
	if len(p.PreferredTypes) == 0 {
		p.PreferredTypes = []string{"research_article"}
	}
	return p
}

func capList(items []string) []string {
	items = dedupeStrings(items)
	if len(items) > maxKeywordsPerList {
		items = items[:maxKeywordsPerList]
	}
	return items
}
