package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/paperpilot/internal/cache"
	"github.com/timmy/paperpilot/internal/domain"
)

func TestKeywordExtractor_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		llm   ChatCompleter
		query string
	}{
		{"no llm", nil, "knowledge graph"},
		{"llm error", &fakeLLM{err: errors.New("down")}, "knowledge graph"},
		{"malformed reply", &fakeLLM{replies: []string{"I cannot help"}}, "knowledge graph"},
		{"overlong query", &fakeLLM{replies: []string{`{}`}}, strings.Repeat("图", 501)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewKeywordExtractor(tt.llm, nil, 0)
			got := e.Extract(context.Background(), tt.query)
			want := domain.FallbackKeywordPayload(tt.query)
			assert.Equal(t, want.AllKeywords(), got.AllKeywords())
			assert.Equal(t, domain.TimeRangeRecent5Years, got.TimeRange)
		})
	}
}

func TestKeywordExtractor_ValidatesReply(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{
  "core_keywords_zh": ["知识图谱", "知识图谱", "图推理", "实体链接", "关系抽取", "图嵌入", "多余"],
  "core_keywords_en": [],
  "extended_keywords": ["KG"],
  "time_range": "last_decade",
  "preferred_types": []
}`}}
	e := NewKeywordExtractor(llm, nil, 0)

	got := e.Extract(context.Background(), "知识图谱")
	require.Len(t, got.CoreKeywordsZh, 5, "deduplicated and capped")
	assert.Equal(t, []string{"知识图谱", "图推理"}, got.CoreKeywordsZh[:2])
	assert.Equal(t, domain.TimeRangeRecent5Years, got.TimeRange, "invalid time range defaults")
	assert.Equal(t, []string{"research_article"}, got.PreferredTypes)
}

func TestKeywordExtractor_EmptyCoreUsesQuery(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"core_keywords_zh":[],"core_keywords_en":[],"time_range":"all_time"}`}}
	got := NewKeywordExtractor(llm, nil, 0).Extract(context.Background(), "graph reasoning")
	assert.Equal(t, []string{"graph reasoning"}, got.CoreKeywordsZh)
	assert.Equal(t, domain.TimeRangeAllTime, got.TimeRange)
}

func TestKeywordExtractor_CachesSuccess(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"core_keywords_en":["knowledge graph"],"time_range":"recent_1_year"}`}}
	e := NewKeywordExtractor(llm, cache.New(16), 0)
	ctx := context.Background()

	first := e.Extract(ctx, "knowledge graph")
	second := e.Extract(ctx, "knowledge graph")
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, first.AllKeywords(), second.AllKeywords())
	assert.Equal(t, domain.TimeRangeRecent1Year, second.TimeRange)
}
