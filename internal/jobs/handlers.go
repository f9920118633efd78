package jobs

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/service"
)

// HandlerFunc executes one job payload and returns a JSON-encodable result.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

type Crawler interface {
	Crawl(ctx context.Context, days int, sources []string) (*service.CrawlResult, error)
}

type EmbeddingRebuilder interface {
	RebuildEmbeddings(ctx context.Context, batchSize int) (*service.RebuildResult, error)
}

type TrendAnalyzer interface {
	Analyze(ctx context.Context, days, nClusters int) (*domain.TrendReport, error)
}

type Recommender interface {
	Recommend(ctx context.Context, userID string, limit int) ([]domain.ScoredPaper, error)
}

// Defaults fill payload fields the submitter left out.
type Defaults struct {
	CrawlDays      int
	TrendDays      int
	TrendClusters  int
	RecommendLimit int
	BatchSize      int
}

func (d Defaults) withFallbacks() Defaults {
	if d.CrawlDays <= 0 {
		d.CrawlDays = 2
	}
	if d.TrendDays <= 0 {
		d.TrendDays = 7
	}
	if d.TrendClusters <= 0 {
		d.TrendClusters = 5
	}
	if d.RecommendLimit <= 0 {
		d.RecommendLimit = 10
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 50
	}
	return d
}

// Dependencies are the services the standard job kinds run against.
type Dependencies struct {
	Crawler     Crawler
	Rebuilder   EmbeddingRebuilder
	Trends      TrendAnalyzer
	Recommender Recommender
	Defaults    Defaults
}

// RegisterDefaults binds every standard job kind whose service is present.
func RegisterDefaults(r *Runner, deps Dependencies) {
	d := deps.Defaults.withFallbacks()
	if deps.Crawler != nil {
		r.Register(KindDailyCrawl, crawlHandler(deps.Crawler, d))
	}
	if deps.Trends != nil {
		r.Register(KindWeeklyTrends, trendsHandler(deps.Trends, d))
	}
	if deps.Recommender != nil {
		r.Register(KindUserRecommendations, recommendationsHandler(deps.Recommender, d))
	}
	if deps.Rebuilder != nil {
		r.Register(KindRebuildEmbeddings, rebuildHandler(deps.Rebuilder, d))
	}
}

func crawlHandler(c Crawler, d Defaults) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		p := CrawlPayload{Days: d.CrawlDays}
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return c.Crawl(ctx, p.Days, p.Sources)
	}
}

func trendsHandler(t TrendAnalyzer, d Defaults) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		p := TrendsPayload{Days: d.TrendDays, Clusters: d.TrendClusters}
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		report, err := t.Analyze(ctx, p.Days, p.Clusters)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"report_id":   report.ID,
			"paper_count": report.PaperCount,
			"clusters":    len(report.Clusters),
			"archive_key": report.ArchiveKey,
		}, nil
	}
}

func recommendationsHandler(rec Recommender, d Defaults) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		p := RecommendationsPayload{Limit: d.RecommendLimit}
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
		}
		papers, err := rec.Recommend(ctx, p.UserID, p.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"user_id": p.UserID, "paper_ids": domain.PaperIDs(papers)}, nil
	}
}

func rebuildHandler(rb EmbeddingRebuilder, d Defaults) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		p := RebuildPayload{BatchSize: d.BatchSize}
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		return rb.RebuildEmbeddings(ctx, p.BatchSize)
	}
}
