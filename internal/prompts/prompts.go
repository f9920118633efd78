package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Keyword Extraction Prompt (LLM)
// ============================================================================

// KeywordExtractionSystemPrompt sets the role for query keyword extraction.
const KeywordExtractionSystemPrompt = `你是一个专业的学术检索助手，擅长理解用户需求并提取关键信息。`

// keywordExtractionTemplate asks for the structured retrieval payload.
// 输出字段与 domain.KeywordPayload 一一对应
const keywordExtractionTemplate = `分析以下用户查询，提取检索所需的结构化信息：
用户查询："%s"

请提取：
1. 核心研究主题（主关键词，中英文）
2. 相关领域概念（扩展关键词）
3. 可能的英文对应术语
4. 时间范围偏好（recent_1_year、recent_3_years、recent_5_years 或 all_time）
5. 文献类型偏好（research_article、review、conference_paper 等）

每个关键词列表最多 5 个。严格以 JSON 格式输出，不要包含任何其他文字：
{
  "core_keywords_zh": ["关键词1", "关键词2"],
  "core_keywords_en": ["keyword1", "keyword2"],
  "extended_keywords": ["扩展词1", "扩展词2"],
  "time_range": "recent_5_years",
  "preferred_types": ["research_article", "review"]
}`

// KeywordExtractionPrompt renders the user message for query.
func KeywordExtractionPrompt(query string) string {
	return fmt.Sprintf(keywordExtractionTemplate, query)
}

// ============================================================================
// Rerank Prompt (LLM)
// ============================================================================

// RerankSystemPrompt sets the role for candidate relevance scoring.
const RerankSystemPrompt = `你是一个专业的学术文献评估专家。`

// rerankTemplate 的 paper_index 从 1 开始，对应候选列表中的 [论文N]
const rerankTemplate = `你是一位资深学术研究助手。用户需求："%s"

以下是检索到的论文列表：
%s

任务：
1. 评估每篇论文与用户需求的相关度（0-10分，保留一位小数）
2. 识别高质量信号（顶刊、高引用、权威机构）
3. 按相关度排序并给出推荐理由（每篇不超过50字）
4. 只保留相关度>=%.1f的论文

严格输出JSON格式：
{
  "recommended_papers": [
    {
      "paper_index": 1,
      "relevance_score": 9.5,
      "reason": "该论文直接针对用户需求..."
    }
  ],
  "total_evaluated": %d,
  "total_recommended": 15
}`

// CandidateBlock is one paper as shown to the re-ranker.
type CandidateBlock struct {
	Title         string
	Abstract      string
	Keywords      []string
	Authors       []string
	Journal       string
	PublishDate   string
	CitationCount int
}

// RerankPrompt renders the user message for query over candidates.
// Parameters:
//   - query: the raw user query.
//   - candidates: summaries in ranking order; index i is shown as [论文i+1].
//   - minScore: relevance threshold stated to the model.
//
// Returns:
//   - string: prompt text.
func RerankPrompt(query string, candidates []CandidateBlock, minScore float64) string {
	blocks := make([]string, len(candidates))
	for i, c := range candidates {
		blocks[i] = fmt.Sprintf("[论文%d]\n标题：%s\n摘要：%s...\n关键词：%s\n作者：%s\n期刊：%s\n发表时间：%s\n引用数：%d",
			i+1,
			orNA(c.Title),
			orNA(c.Abstract),
			strings.Join(c.Keywords, ", "),
			strings.Join(c.Authors, ", "),
			orNA(c.Journal),
			orNA(c.PublishDate),
			c.CitationCount,
		)
	}
	return fmt.Sprintf(rerankTemplate, query, strings.Join(blocks, "\n\n"), minScore, len(candidates))
}

// ============================================================================
// Trend Summary Prompt (LLM)
// ============================================================================

// TrendSystemPrompt sets the role for trend summaries.
const TrendSystemPrompt = `你是一个学术趋势分析专家。`

const trendTemplate = `分析以下最近 %d 天新发表的论文，识别研究热点和前沿动态：

%s

各聚类的高频关键词：
%s

任务：
1. 识别3-5个主要研究热点主题
2. 指出方法论创新和应用突破
3. 给出整体趋势总结（200字内）

输出JSON格式：
{
  "summary": "本周研究呈现...",
  "insights": ["洞察1", "洞察2"]
}`

// TrendPaperLine is one paper listed in the trend prompt.
type TrendPaperLine struct {
	Title       string
	Journal     string
	PublishDate string
	Keywords    []string
}

// TrendPrompt renders the user message for a trend window.
func TrendPrompt(days int, papers []TrendPaperLine, clusterKeywords [][]string) string {
	lines := make([]string, len(papers))
	for i, p := range papers {
		lines[i] = fmt.Sprintf("- %s (%s, %s)\n  关键词: %s", p.Title, p.Journal, p.PublishDate, strings.Join(p.Keywords, ", "))
	}
	clusters := make([]string, len(clusterKeywords))
	for i, kws := range clusterKeywords {
		clusters[i] = fmt.Sprintf("聚类%d: %s", i+1, strings.Join(kws, ", "))
	}
	return fmt.Sprintf(trendTemplate, days, strings.Join(lines, "\n"), strings.Join(clusters, "\n"))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
