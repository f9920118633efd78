package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/prompts"
	"github.com/timmy/paperpilot/internal/storage"
	"github.com/timmy/paperpilot/internal/vectorindex"
)

const (
	trendTopKeywords   = 10
	trendHotPapers     = 10
	trendPromptPapers  = 100
	archiveDateLayout  = "2006-01-02"
	archiveKeyTemplate = "trends/%s.json"
)

// TrendPapers lists papers by publication window.
type TrendPapers interface {
	ListPublishedSince(ctx context.Context, since time.Time, limit int) ([]domain.Paper, error)
}

// TrendStore persists trend reports.
type TrendStore interface {
	Create(ctx context.Context, report *domain.TrendReport) error
	SetArchiveKey(ctx context.Context, id uint, key string) error
	Latest(ctx context.Context) (*domain.TrendReport, error)
	List(ctx context.Context, limit int) ([]domain.TrendReport, error)
}

// TrendService clusters recent papers into topics and keeps the reports.
type TrendService struct {
	papers  TrendPapers
	index   vectorindex.Index
	reports TrendStore
	llm     ChatCompleter
	archive storage.ObjectStorage
	now     func() time.Time
}

// NewTrendService creates a new trend service. llm and archive may be nil.
func NewTrendService(papers TrendPapers, index vectorindex.Index, reports TrendStore, llm ChatCompleter, archive storage.ObjectStorage) *TrendService {
	return &TrendService{
		papers:  papers,
		index:   index,
		reports: reports,
		llm:     llm,
		archive: archive,
		now:     time.Now,
	}
}

// Analyze builds, stores and archives the report for the last days.
func (s *TrendService) Analyze(ctx context.Context, days, nClusters int) (*domain.TrendReport, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", domain.ErrInvalidInput)
	}
	if nClusters <= 0 {
		nClusters = 5
	}
	start := time.Now()
	end := s.now()
	since := end.AddDate(0, 0, -days)

	papers, err := s.papers.ListPublishedSince(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load papers: %w", err)
	}

	report := &domain.TrendReport{
		AnalysisDate: end,
		StartDate:    since,
		EndDate:      end,
		PaperCount:   len(papers),
		Clusters:     domain.TrendClusters{},
		HotPaperIDs:  domain.StringArray{},
		Keywords:     domain.StringArray{},
	}

	if len(papers) > 0 {
		clusters, err := s.cluster(ctx, papers, nClusters)
		if err != nil {
			return nil, err
		}
		report.Clusters = clusters

		top := keywordHistogram(papers, trendTopKeywords)
		for _, kc := range top {
			report.Keywords = append(report.Keywords, kc.Keyword)
		}
		report.HotPaperIDs = hotPaperIDs(papers, trendHotPapers)

		total := 0
		for _, p := range papers {
			total += p.CitationCount
		}
		report.AvgCitation = float64(total) / float64(len(papers))
	}

	report.Topic = trendTopic(report.Keywords)
	report.Summary = s.summarize(ctx, days, papers, report)

	if err := s.reports.Create(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save trend report: %w", err)
	}
	s.archiveReport(ctx, report)

	logger.With(logger.Fields{
		"clusters":        len(report.Clusters),
		logger.FieldCount: report.PaperCount,
	}).WithDuration(start).Info(ctx, "Trend analysis completed")
	return report, nil
}

// cluster groups papers through the vector index. Papers without a stored
// vector do not appear in any cluster.
func (s *TrendService) cluster(ctx context.Context, papers []domain.Paper, n int) (domain.TrendClusters, error) {
	if s.index == nil {
		return domain.TrendClusters{}, nil
	}
	ids := make([]string, len(papers))
	byID := make(map[string]domain.Paper, len(papers))
	for i, p := range papers {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	groups, err := s.index.Cluster(ctx, ids, n)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster papers: %w", err)
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make(domain.TrendClusters, 0, len(keys))
	for _, k := range keys {
		members := groups[k]
		if len(members) == 0 {
			continue
		}
		sort.Strings(members)
		memberPapers := make([]domain.Paper, 0, len(members))
		for _, id := range members {
			memberPapers = append(memberPapers, byID[id])
		}
		hist := keywordHistogram(memberPapers, trendTopKeywords)
		out = append(out, domain.TrendCluster{
			ClusterIndex:     k,
			MemberPaperIDs:   members,
			KeywordHistogram: hist,
			Summary:          clusterSummary(hist, len(members)),
		})
	}
	return out, nil
}

type trendReply struct {
	Summary  string   `json:"summary"`
	Insights []string `json:"insights"`
}

// summarize asks the LLM for a summary and falls back to a keyword digest.
func (s *TrendService) summarize(ctx context.Context, days int, papers []domain.Paper, report *domain.TrendReport) string {
	fallback := fallbackTrendSummary(report)
	if s.llm == nil || len(papers) == 0 {
		return fallback
	}

	lines := make([]prompts.TrendPaperLine, 0, min(len(papers), trendPromptPapers))
	for i := range papers {
		if i == trendPromptPapers {
			break
		}
		p := &papers[i]
		line := prompts.TrendPaperLine{Title: p.Title, Journal: p.Journal, Keywords: firstN(p.Keywords, 5)}
		if p.PublishDate != nil {
			line.PublishDate = p.PublishDate.Format(archiveDateLayout)
		}
		lines = append(lines, line)
	}
	clusterKeywords := make([][]string, len(report.Clusters))
	for i, c := range report.Clusters {
		for _, kc := range firstNCounts(c.KeywordHistogram, 5) {
			clusterKeywords[i] = append(clusterKeywords[i], kc.Keyword)
		}
	}

	content, err := s.llm.Complete(ctx, []ChatMessage{
		{Role: "system", Content: prompts.TrendSystemPrompt},
		{Role: "user", Content: prompts.TrendPrompt(days, lines, clusterKeywords)},
	}, ChatOptions{MaxTokens: 1500, Temperature: 0.4})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Trend summary unavailable, using keyword digest")
		return fallback
	}
	var reply trendReply
	if err := decodeJSONReply(content, &reply); err != nil || strings.TrimSpace(reply.Summary) == "" {
		logger.FromContext(ctx).WithError(err).Warn("Unusable trend summary, using keyword digest")
		return fallback
	}
	summary := strings.TrimSpace(reply.Summary)
	if len(reply.Insights) > 0 {
		summary += "\n- " + strings.Join(reply.Insights, "\n- ")
	}
	return summary
}

func (s *TrendService) archiveReport(ctx context.Context, report *domain.TrendReport) {
	if s.archive == nil {
		return
	}
	key := archiveKey(report.AnalysisDate)
	if err := storage.PutJSON(ctx, s.archive, key, report); err != nil {
		logger.FromContext(ctx).WithField("key", key).WithError(err).Warn("Failed to archive trend report")
		return
	}
	if err := s.reports.SetArchiveKey(ctx, report.ID, key); err != nil {
		logger.FromContext(ctx).WithField("key", key).WithError(err).Warn("Failed to record archive key")
		return
	}
	report.ArchiveKey = key
}

// ArchivedReport loads the archived report of a given day (YYYY-MM-DD).
func (s *TrendService) ArchivedReport(ctx context.Context, date string) (*domain.TrendReport, error) {
	day, err := time.Parse(archiveDateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalidInput)
	}
	if s.archive == nil {
		return nil, fmt.Errorf("trend archive disabled: %w", domain.ErrNotFound)
	}
	var report domain.TrendReport
	if err := storage.GetJSON(ctx, s.archive, archiveKey(day), &report); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("archived report %s: %w", date, domain.ErrNotFound)
		}
		return nil, err
	}
	return &report, nil
}

// LatestReport returns the newest stored report or domain.ErrNotFound.
func (s *TrendService) LatestReport(ctx context.Context) (*domain.TrendReport, error) {
	return s.reports.Latest(ctx)
}

// History returns up to limit reports, newest first.
func (s *TrendService) History(ctx context.Context, limit int) ([]domain.TrendReport, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.reports.List(ctx, limit)
}

// TrendingKeywords returns the most frequent keywords of the last days.
func (s *TrendService) TrendingKeywords(ctx context.Context, days, limit int) ([]domain.KeywordCount, error) {
	if days <= 0 {
		days = 7
	}
	papers, err := s.papers.ListPublishedSince(ctx, s.now().AddDate(0, 0, -days), 0)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return keywordHistogram(papers, limit), nil
}

// HotPapers returns the most cited papers of the last days.
func (s *TrendService) HotPapers(ctx context.Context, days, limit int) ([]domain.Paper, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 10
	}
	return s.papers.ListPublishedSince(ctx, s.now().AddDate(0, 0, -days), limit)
}

func archiveKey(day time.Time) string {
	return fmt.Sprintf(archiveKeyTemplate, day.UTC().Format(archiveDateLayout))
}

// hotPaperIDs returns the ids of the n most cited papers.
func hotPaperIDs(papers []domain.Paper, n int) domain.StringArray {
	sorted := append([]domain.Paper(nil), papers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessByCitations(&sorted[i], &sorted[j])
	})
	ids := domain.StringArray{}
	for i := 0; i < len(sorted) && i < n; i++ {
		ids = append(ids, sorted[i].ID)
	}
	return ids
}

func trendTopic(keywords []string) string {
	if len(keywords) == 0 {
		return "General"
	}
	return strings.Join(firstN(keywords, 3), ", ")
}

func clusterSummary(hist []domain.KeywordCount, members int) string {
	if len(hist) == 0 {
		return fmt.Sprintf("%d papers", members)
	}
	return fmt.Sprintf("%s (%d papers)", joinCounts(firstNCounts(hist, 3)), members)
}

func fallbackTrendSummary(report *domain.TrendReport) string {
	window := fmt.Sprintf("%s and %s", report.StartDate.Format(archiveDateLayout), report.EndDate.Format(archiveDateLayout))
	if report.PaperCount == 0 {
		return "No papers published between " + window + "."
	}
	summary := fmt.Sprintf("Analyzed %d papers published between %s.", report.PaperCount, window)
	if len(report.Keywords) > 0 {
		summary += " Top keywords: " + strings.Join(firstN(report.Keywords, 5), ", ") + "."
	}
	if len(report.Clusters) > 0 {
		summary += fmt.Sprintf(" %d topic clusters identified.", len(report.Clusters))
	}
	return summary
}

func firstNCounts(items []domain.KeywordCount, n int) []domain.KeywordCount {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func joinCounts(items []domain.KeywordCount) string {
	parts := make([]string, len(items))
	for i, kc := range items {
		parts[i] = fmt.Sprintf("%s %d", kc.Keyword, kc.Count)
	}
	return strings.Join(parts, ", ")
}
