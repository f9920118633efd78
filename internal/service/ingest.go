package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/metrics"
	"github.com/timmy/paperpilot/internal/repository"
	"github.com/timmy/paperpilot/internal/source"
	"github.com/timmy/paperpilot/internal/vectorindex"
)

const defaultSimilarityThreshold = 0.8

// PaperStore is the paper persistence used by ingestion and the catalog.
type PaperStore interface {
	Save(ctx context.Context, paper *domain.Paper) (repository.SaveOutcome, error)
	FindMatch(ctx context.Context, paper *domain.Paper) (*domain.Paper, error)
	GetByID(ctx context.Context, id string) (*domain.Paper, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Paper, error)
	ListWithoutEmbedding(ctx context.Context, limit int) ([]domain.Paper, error)
	ListWithEmbedding(ctx context.Context, afterID string, limit int) ([]domain.Paper, error)
	UpdateEmbedding(ctx context.Context, paper *domain.Paper) error
	Count(ctx context.Context) (int64, error)
	CountWithEmbedding(ctx context.Context) (int64, error)
}

// IngestService stores papers, keeps the vector index in sync and serves
// catalog lookups.
type IngestService struct {
	papers    PaperStore
	index     vectorindex.Index
	gateway   *EmbeddingGateway
	registry  *source.Registry
	workers   int
	batchSize int
	async     bool

	// onPendingEmbeddings is called after StorePapers left papers without
	// an embedding in async mode.
	onPendingEmbeddings func(ctx context.Context, pending int)
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers         int
	BatchSize       int
	AsyncEmbeddings bool
}

// NewIngestService creates a new ingest service
func NewIngestService(
	papers PaperStore,
	index vectorindex.Index,
	gateway *EmbeddingGateway,
	registry *source.Registry,
	cfg *IngestConfig,
) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	if registry == nil {
		registry = source.NewRegistry()
	}
	return &IngestService{
		papers:    papers,
		index:     index,
		gateway:   gateway,
		registry:  registry,
		workers:   workers,
		batchSize: batchSize,
		async:     cfg.AsyncEmbeddings,
	}
}

// SetPendingEmbeddingsHook registers fn to be called when papers were
// stored without embeddings in async mode.
func (s *IngestService) SetPendingEmbeddingsHook(fn func(ctx context.Context, pending int)) {
	s.onPendingEmbeddings = fn
}

// StoreResult counts the outcome of StorePapers.
type StoreResult struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (r *StoreResult) add(o StoreResult) {
	r.New += o.New
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// StorePapers persists papers one transaction each. New papers are
// embedded first unless async embeddings are enabled.
func (s *IngestService) StorePapers(ctx context.Context, papers []domain.Paper) StoreResult {
	var res StoreResult
	pending := 0

	for i := range papers {
		if ctx.Err() != nil {
			res.Failed += len(papers) - i
			break
		}
		p := papers[i]
		if strings.TrimSpace(p.Title) == "" {
			res.Skipped++
			continue
		}
		p.EnsureID()

		if !p.HasEmbedding() && s.needsEmbedding(ctx, &p) {
			if s.async {
				pending++
			} else if v := s.embed(ctx, &p); v != nil {
				p.SetVector(v)
			}
		}

		outcome, err := s.papers.Save(ctx, &p)
		if err != nil {
			res.Failed++
			logger.FromContext(ctx).WithFields(logger.Fields{
				logger.FieldPaperID: p.ID,
				logger.FieldSource:  p.Source,
			}).WithError(err).Error("Failed to store paper")
			continue
		}
		if outcome == repository.SaveInserted {
			res.New++
		} else {
			res.Updated++
		}

		s.mirror(ctx, &p)
	}

	if pending > 0 && s.onPendingEmbeddings != nil {
		s.onPendingEmbeddings(ctx, pending)
	}
	return res
}

// needsEmbedding is false when a stored copy already carries an embedding.
func (s *IngestService) needsEmbedding(ctx context.Context, p *domain.Paper) bool {
	existing, err := s.papers.FindMatch(ctx, p)
	if err != nil {
		return true
	}
	return !existing.HasEmbedding()
}

func (s *IngestService) embed(ctx context.Context, p *domain.Paper) []float32 {
	if s.gateway == nil {
		return nil
	}
	v := s.gateway.Embed(ctx, BuildPaperEmbeddingText(p))
	if vectorindex.IsZero(v) {
		return nil
	}
	return v
}

// mirror copies a stored embedding into the vector index.
func (s *IngestService) mirror(ctx context.Context, p *domain.Paper) {
	if s.index == nil || !p.HasEmbedding() {
		return
	}
	if err := s.index.Upsert(ctx, vectorindex.EntryFromPaper(p)); err != nil {
		logger.FromContext(ctx).WithField(logger.FieldPaperID, p.ID).WithError(err).Warn("Failed to index paper")
	}
}

// WarmIndex loads every stored embedding into the vector index. The
// in-memory index starts empty on each boot.
func (s *IngestService) WarmIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	start := time.Now()
	loaded := 0
	after := ""
	for {
		page, err := s.papers.ListWithEmbedding(ctx, after, s.batchSize)
		if err != nil {
			return loaded, fmt.Errorf("load embeddings: %w", err)
		}
		for i := range page {
			if err := s.index.Upsert(ctx, vectorindex.EntryFromPaper(&page[i])); err != nil {
				return loaded, fmt.Errorf("index paper %s: %w", page[i].ID, err)
			}
			loaded++
		}
		if len(page) < s.batchSize {
			break
		}
		after = page[len(page)-1].ID
	}
	logger.With(logger.Fields{logger.FieldComponent: "ingest"}).
		WithCount(loaded).WithDuration(start).Info(ctx, "Vector index warmed")
	return loaded, nil
}

// CrawlResult summarizes one crawl.
type CrawlResult struct {
	StoreResult
	Fetched  int               `json:"fetched"`
	Errors   map[string]string `json:"errors,omitempty"`
	Duration string            `json:"duration"`
}

type crawlOutcome struct {
	source  string
	fetched int
	store   StoreResult
	err     error
}

// Crawl fetches the latest papers from the selected connectors with a
// worker pool and stores them. A failing connector does not affect the
// others.
func (s *IngestService) Crawl(ctx context.Context, days int, sources []string) (*CrawlResult, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", domain.ErrInvalidInput)
	}
	start := time.Now()
	connectors := s.registry.Select(sources)

	logger.FromContext(ctx).WithFields(logger.Fields{
		"days":    days,
		"sources": len(connectors),
	}).Info("Starting crawl")

	work := make(chan source.Connector)
	results := make(chan crawlOutcome, len(connectors))

	var wg sync.WaitGroup
	for i := 0; i < min(s.workers, max(len(connectors), 1)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				results <- s.crawlOne(ctx, c, days)
			}
		}()
	}

	go func() {
		defer close(work)
		for _, c := range connectors {
			select {
			case work <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	res := &CrawlResult{Errors: map[string]string{}}
	for out := range results {
		res.Fetched += out.fetched
		res.add(out.store)
		if out.err != nil {
			res.Errors[out.source] = out.err.Error()
		}
	}
	res.Duration = time.Since(start).String()

	logger.With(logger.Fields{
		"fetched": res.Fetched,
		"new":     res.New,
		"updated": res.Updated,
		"failed":  res.Failed,
		"errors":  len(res.Errors),
	}).WithDuration(start).Info(ctx, "Crawl completed")
	return res, nil
}

func (s *IngestService) crawlOne(ctx context.Context, c source.Connector, days int) (out crawlOutcome) {
	out.source = c.Name()
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("connector panicked: %v", r)
			metrics.SourceFailures.WithLabelValues(c.Name()).Inc()
		}
	}()

	papers, err := c.FetchLatest(ctx, days)
	if err != nil {
		metrics.SourceFailures.WithLabelValues(c.Name()).Inc()
		logger.FromContext(ctx).WithField(logger.FieldSource, c.Name()).WithError(err).Warn("Failed to fetch latest papers")
		out.err = err
		return out
	}
	out.fetched = len(papers)
	out.store = s.StorePapers(ctx, papers)
	return out
}

// RebuildResult summarizes RebuildEmbeddings.
type RebuildResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
}

// RebuildEmbeddings embeds papers that have none, batch by batch. It stops
// when no papers are left or a whole batch fails.
func (s *IngestService) RebuildEmbeddings(ctx context.Context, batchSize int) (*RebuildResult, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	res := &RebuildResult{}
	attempted := make(map[string]struct{})

	for {
		batch, err := s.papers.ListWithoutEmbedding(ctx, batchSize)
		if err != nil {
			return res, fmt.Errorf("failed to list papers without embedding: %w", err)
		}
		if len(batch) == 0 {
			return res, nil
		}
		for _, p := range batch {
			if _, ok := attempted[p.ID]; !ok {
				attempted[p.ID] = struct{}{}
				res.Total++
			}
		}

		var updated int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for i := range batch {
			p := &batch[i]
			g.Go(func() error {
				v := s.embed(gctx, p)
				if v == nil {
					return nil
				}
				p.SetVector(v)
				if err := s.papers.UpdateEmbedding(gctx, p); err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						return nil
					}
					return fmt.Errorf("update embedding %s: %w", p.ID, err)
				}
				s.mirror(gctx, p)
				atomic.AddInt64(&updated, 1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			res.Updated += int(updated)
			return res, err
		}
		res.Updated += int(updated)

		logger.With(logger.Fields{"batch": len(batch)}).WithCount(int(updated)).Info(ctx, "Embedding batch done")
		if updated == 0 {
			return res, nil
		}
	}
}

// VectorStats reports embedding coverage.
type VectorStats struct {
	TotalPapers          int64   `json:"total_papers"`
	PapersWithEmbeddings int64   `json:"papers_with_embeddings"`
	IndexedVectors       int     `json:"indexed_vectors"`
	CoveragePercentage   float64 `json:"coverage_percentage"`
	EmbeddingDimension   int     `json:"embedding_dimension"`
}

func (s *IngestService) VectorStats(ctx context.Context) (*VectorStats, error) {
	total, err := s.papers.Count(ctx)
	if err != nil {
		return nil, err
	}
	withEmb, err := s.papers.CountWithEmbedding(ctx)
	if err != nil {
		return nil, err
	}
	stats := &VectorStats{TotalPapers: total, PapersWithEmbeddings: withEmb}
	if total > 0 {
		stats.CoveragePercentage = float64(withEmb) / float64(total) * 100
	}
	if s.gateway != nil {
		stats.EmbeddingDimension = s.gateway.Dimension()
	}
	if s.index != nil {
		if is, err := s.index.Stats(ctx); err == nil {
			stats.IndexedVectors = is.Count
			if stats.EmbeddingDimension == 0 {
				stats.EmbeddingDimension = is.Dimension
			}
		}
	}
	return stats, nil
}

// GetPaper returns one stored paper or domain.ErrNotFound.
func (s *IngestService) GetPaper(ctx context.Context, id string) (*domain.Paper, error) {
	return s.papers.GetByID(ctx, id)
}

// PaperTopics returns the topN most frequent keywords across ids.
func (s *IngestService) PaperTopics(ctx context.Context, ids []string, topN int) ([]domain.KeywordCount, error) {
	papers, err := s.papers.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return keywordHistogram(papers, topN), nil
}

// SimilarPapers returns stored papers whose embedding is close to id's.
func (s *IngestService) SimilarPapers(ctx context.Context, id string, limit int, threshold float64) ([]domain.ScoredPaper, error) {
	if _, err := s.papers.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}
	if limit <= 0 {
		limit = 10
	}
	if s.index == nil {
		return []domain.ScoredPaper{}, nil
	}

	matches, err := s.index.SimilarTo(ctx, id, limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("similarity lookup: %w", err)
	}
	ids := make([]string, len(matches))
	scores := make(map[string]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.PaperID
		scores[m.PaperID] = m.Score
	}
	papers, err := s.papers.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredPaper, len(papers))
	for i, p := range papers {
		sim := scores[p.ID]
		out[i] = domain.ScoredPaper{
			Paper:                p,
			RelevanceScore:       sim * 10,
			RecommendationReason: fmt.Sprintf("Semantically similar (%.2f)", sim),
		}
	}
	return out, nil
}

// keywordHistogram counts keywords case-insensitively, keeping the first
// spelling seen, and returns the topN by count then keyword.
func keywordHistogram(papers []domain.Paper, topN int) []domain.KeywordCount {
	counts := make(map[string]*domain.KeywordCount)
	for _, p := range papers {
		seen := make(map[string]struct{}, len(p.Keywords))
		for _, kw := range p.Keywords {
			kw = strings.TrimSpace(kw)
			lower := strings.ToLower(kw)
			if lower == "" {
				continue
			}
			if _, dup := seen[lower]; dup {
				continue
			}
			seen[lower] = struct{}{}
			if kc, ok := counts[lower]; ok {
				kc.Count++
			} else {
				counts[lower] = &domain.KeywordCount{Keyword: kw, Count: 1}
			}
		}
	}

	out := make([]domain.KeywordCount, 0, len(counts))
	for _, kc := range counts {
		out = append(out, *kc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.ToLower(out[i].Keyword) < strings.ToLower(out[j].Keyword)
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
