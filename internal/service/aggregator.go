package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/paperpilot/internal/cache"
	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/metrics"
	"github.com/timmy/paperpilot/internal/source"
	"github.com/timmy/paperpilot/internal/vectorindex"
)

const localBranch = "local"

// PaperLookup is the read side of the paper store used during retrieval.
type PaperLookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.Paper, error)
	SearchByKeywords(ctx context.Context, keywords []string, since time.Time, limit int) ([]domain.Paper, error)
}

// UserContext narrows retrieval for one caller.
type UserContext struct {
	UserID string
	// Sources restricts the connectors queried; empty means all.
	Sources []string
}

// AggregatorConfig holds retrieval limits.
type AggregatorConfig struct {
	BranchTimeout  time.Duration
	LocalLimit     int
	ConnectorLimit int
	SourceTTL      time.Duration
}

// Aggregator fans a query out to the local index and every connector and
// merges the results.
type Aggregator struct {
	index    vectorindex.Index
	papers   PaperLookup
	gateway  *EmbeddingGateway
	registry *source.Registry
	cache    *cache.ResultCache
	cfg      AggregatorConfig
	now      func() time.Time
}

// NewAggregator creates a new aggregator. resultCache may be nil.
func NewAggregator(
	index vectorindex.Index,
	papers PaperLookup,
	gateway *EmbeddingGateway,
	registry *source.Registry,
	resultCache *cache.ResultCache,
	cfg AggregatorConfig,
) *Aggregator {
	if cfg.BranchTimeout <= 0 {
		cfg.BranchTimeout = 10 * time.Second
	}
	if cfg.LocalLimit <= 0 {
		cfg.LocalLimit = 50
	}
	if cfg.ConnectorLimit <= 0 {
		cfg.ConnectorLimit = 20
	}
	if cfg.SourceTTL <= 0 {
		cfg.SourceTTL = time.Hour
	}
	if registry == nil {
		registry = source.NewRegistry()
	}
	return &Aggregator{
		index:    index,
		papers:   papers,
		gateway:  gateway,
		registry: registry,
		cache:    resultCache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Retrieve returns the deduplicated union of all branches. Branches that
// fail, time out or panic contribute nothing. The merge order is fixed:
// the local branch first, then connectors sorted by name.
func (a *Aggregator) Retrieve(ctx context.Context, queryText string, payload domain.KeywordPayload, uc *UserContext) []domain.Paper {
	var names []string
	if uc != nil {
		names = uc.Sources
	}
	connectors := a.registry.Select(names)

	slots := make([][]domain.Paper, 1+len(connectors))
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		slots[0] = a.runBranch(ctx, localBranch, func(ctx context.Context) ([]domain.Paper, error) {
			return a.searchLocal(ctx, payload)
		})
	}()

	for i, c := range connectors {
		wg.Add(1)
		go func(slot int, c source.Connector) {
			defer wg.Done()
			slots[slot] = a.runBranch(ctx, c.Name(), func(ctx context.Context) ([]domain.Paper, error) {
				return a.searchConnector(ctx, c, payload)
			})
		}(i+1, c)
	}
	wg.Wait()

	var merged []domain.Paper
	for _, s := range slots {
		merged = append(merged, s...)
	}
	out := Deduplicate(merged)

	logger.With(logger.Fields{
		"query":           queryText,
		"branches":        len(slots),
		"before_dedup":    len(merged),
		logger.FieldCount: len(out),
	}).Debug(ctx, "Retrieval merged")
	return out
}

type branchResult struct {
	papers []domain.Paper
	err    error
}

// runBranch runs fn under its own deadline. The call is abandoned once the
// deadline passes even if fn ignores its context.
func (a *Aggregator) runBranch(ctx context.Context, name string, fn func(context.Context) ([]domain.Paper, error)) []domain.Paper {
	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, a.cfg.BranchTimeout)
	defer cancel()

	ch := make(chan branchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- branchResult{err: fmt.Errorf("branch panicked: %v", r)}
			}
		}()
		papers, err := fn(bctx)
		ch <- branchResult{papers: papers, err: err}
	}()

	var res branchResult
	select {
	case res = <-ch:
	case <-bctx.Done():
		res.err = bctx.Err()
	}

	entry := logger.With(logger.Fields{logger.FieldBranch: name}).WithDuration(start)
	if res.err != nil {
		metrics.SourceFailures.WithLabelValues(name).Inc()
		entry.Warn(ctx, "Retrieval branch failed: %v", res.err)
		return nil
	}
	entry.WithCount(len(res.papers)).Debug(ctx, "Retrieval branch finished")
	return res.papers
}

// searchLocal embeds the keyword text and queries the vector index, then
// hydrates the matches in index order. When the embedding is unavailable it
// falls back to a keyword match over the paper store.
func (a *Aggregator) searchLocal(ctx context.Context, payload domain.KeywordPayload) ([]domain.Paper, error) {
	since := payload.TimeRange.Since(a.now())

	var q []float32
	if a.gateway != nil {
		q = a.gateway.EmbedQuery(ctx, payload.EmbeddingText())
	}
	if vectorindex.IsZero(q) {
		if a.papers == nil {
			return nil, nil
		}
		return a.papers.SearchByKeywords(ctx, payload.AllKeywords(), since, a.cfg.LocalLimit)
	}

	if a.index == nil || a.papers == nil {
		return nil, nil
	}
	matches, err := a.index.Nearest(ctx, q, a.cfg.LocalLimit, &vectorindex.Filters{From: &since})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.PaperID
	}
	return a.papers.GetByIDs(ctx, ids)
}

func (a *Aggregator) searchConnector(ctx context.Context, c source.Connector, payload domain.KeywordPayload) ([]domain.Paper, error) {
	keywords := payload.AllKeywords()
	if a.cache == nil {
		return c.Search(ctx, keywords, a.cfg.ConnectorLimit)
	}
	return cache.GetOrCompute(ctx, a.cache, cache.SourceKey(c.Name(), payload), a.cfg.SourceTTL,
		func(ctx context.Context) ([]domain.Paper, error) {
			return c.Search(ctx, keywords, a.cfg.ConnectorLimit)
		})
}
