// Package bootstrap wires configuration into the repositories, indexes and
// services shared by the API server and the worker.
package bootstrap

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/paperpilot/internal/cache"
	"github.com/timmy/paperpilot/internal/config"
	"github.com/timmy/paperpilot/internal/jobs"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/repository"
	"github.com/timmy/paperpilot/internal/service"
	"github.com/timmy/paperpilot/internal/source"
	"github.com/timmy/paperpilot/internal/source/arxiv"
	"github.com/timmy/paperpilot/internal/source/openalex"
	"github.com/timmy/paperpilot/internal/source/staging"
	"github.com/timmy/paperpilot/internal/storage"
	"github.com/timmy/paperpilot/internal/vectorindex"
)

// App holds the wired components of one process.
type App struct {
	Config *config.Config
	DB     *gorm.DB

	Papers   *repository.PaperRepository
	Profiles *repository.ProfileRepository
	Events   *repository.SearchEventRepository
	Reports  *repository.TrendRepository
	JobRuns  *repository.JobRunRepository

	Index    vectorindex.Index
	Cache    *cache.ResultCache
	Registry *source.Registry
	Reranker *service.LLMReranker

	Ingest          *service.IngestService
	Personalization *service.PersonalizationEngine
	Trends          *service.TrendService
	Search          *service.SearchService

	Queue  *jobs.Queue
	Runner *jobs.Runner

	closers []func() error
}

// NewLogger builds the process logger from LOG_* variables and the log
// section of cfg, and installs it as the default.
func NewLogger(cfg *config.Config, serviceName string) *logger.Logger {
	opts := logger.OptionsFromEnv()
	if cfg != nil {
		if cfg.Log.Level != "" {
			opts.Level = cfg.Log.Level
		}
		if cfg.Log.Format != "" {
			opts.Format = cfg.Log.Format
		}
	}
	opts.ServiceName = serviceName
	l := logger.New(opts)
	logger.SetDefaultLogger(l)
	return l
}

// New wires every component described by cfg.
// Parameters:
//   - ctx: context for startup calls (collection and bucket checks, index warmup).
//   - cfg: loaded configuration.
//
// Returns:
//   - *App: wired components; call Close on shutdown.
//   - error: non-nil if a required backend is unreachable.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.DB = db
	if sqlDB, err := db.DB(); err == nil {
		app.closers = append(app.closers, sqlDB.Close)
	}

	app.Papers = repository.NewPaperRepository(db)
	app.Profiles = repository.NewProfileRepository(db)
	app.Events = repository.NewSearchEventRepository(db)
	app.Reports = repository.NewTrendRepository(db)
	app.JobRuns = repository.NewJobRunRepository(db)

	if err := app.initIndex(ctx); err != nil {
		return nil, err
	}
	app.Cache = cache.New(cfg.Cache.MaxEntries)
	app.Registry = newRegistry(&cfg.Sources)

	archive, err := newArchive(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}

	gateway := service.NewEmbeddingGateway(service.NewEmbeddingService(&service.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	}), cfg.Vector.Dimension, cfg.Embedding.Timeout)

	// A nil chat client puts every LLM collaborator on its fallback path.
	var llm service.ChatCompleter
	var reranker service.Reranker
	if cfg.LLM.Enabled && cfg.LLM.APIKey != "" {
		chat := service.NewChatClient(&service.ChatClientConfig{
			Model:   cfg.LLM.Model,
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.LLM.Timeout,
		})
		llm = chat
		app.Reranker = service.NewLLMReranker(chat, service.LLMRerankerConfig{
			MinRelevance:     cfg.Search.MinRelevance,
			FailureThreshold: uint32(cfg.LLM.BreakerFailures),
			OpenTimeout:      cfg.LLM.BreakerTimeout,
		})
		reranker = app.Reranker
	} else {
		logger.CtxWarn(ctx, "LLM disabled: keyword extraction, re-ranking and trend summaries use fallbacks")
	}

	app.Ingest = service.NewIngestService(app.Papers, app.Index, gateway, app.Registry, &service.IngestConfig{
		Workers:         cfg.Ingest.Workers,
		BatchSize:       cfg.Ingest.BatchSize,
		AsyncEmbeddings: cfg.Ingest.AsyncEmbeddings,
	})
	app.Personalization = service.NewPersonalizationEngine(app.Profiles, app.Papers, app.Cache, cfg.Cache.RecommendationTTL)
	app.Trends = service.NewTrendService(app.Papers, app.Index, app.Reports, llm, archive)

	aggregator := service.NewAggregator(app.Index, app.Papers, gateway, app.Registry, app.Cache, service.AggregatorConfig{
		BranchTimeout:  cfg.Search.BranchTimeout,
		LocalLimit:     cfg.Search.LocalLimit,
		ConnectorLimit: cfg.Search.ConnectorLimit,
		SourceTTL:      cfg.Search.SourceTTL,
	})
	app.Search = service.NewSearchService(
		service.NewKeywordExtractor(llm, app.Cache, cfg.Search.KeywordTTL),
		aggregator,
		gateway,
		service.NewRankingEngine(reranker, service.RankingConfig{
			PrefilterLimit: cfg.Search.PrefilterLimit,
			MinRelevance:   cfg.Search.MinRelevance,
		}),
		app.Personalization,
		app.Events,
		app.Cache,
		&service.SearchConfig{
			DefaultTopK: cfg.Search.DefaultTopK,
			ResultTTL:   cfg.Search.ResultTTL,
		},
	)

	app.Runner = jobs.NewRunner(app.JobRuns)
	jobs.RegisterDefaults(app.Runner, jobs.Dependencies{
		Crawler:     app.Ingest,
		Rebuilder:   app.Ingest,
		Trends:      app.Trends,
		Recommender: app.Personalization,
		Defaults: jobs.Defaults{
			CrawlDays:     cfg.Jobs.CrawlDays,
			TrendDays:     cfg.Jobs.TrendDays,
			TrendClusters: cfg.Jobs.TrendClusters,
			BatchSize:     cfg.Ingest.BatchSize,
		},
	})
	app.Queue = jobs.NewQueue(cfg.Jobs.Topic)
	app.closers = append(app.closers, app.Queue.Close)

	app.Ingest.SetPendingEmbeddingsHook(func(ctx context.Context, pending int) {
		job, err := jobs.NewJob(jobs.KindRebuildEmbeddings, jobs.RebuildPayload{BatchSize: cfg.Ingest.BatchSize})
		if err == nil {
			_, err = app.Queue.Submit(ctx, job)
		}
		if err != nil {
			logger.CtxWarn(ctx, "Failed to queue embedding rebuild for %d papers: %v", pending, err)
		}
	})

	if _, isMemory := app.Index.(*vectorindex.MemoryIndex); isMemory {
		if _, err := app.Ingest.WarmIndex(ctx); err != nil {
			return nil, fmt.Errorf("warm vector index: %w", err)
		}
	}

	ok = true
	return app, nil
}

func (a *App) initIndex(ctx context.Context) error {
	cfg := a.Config
	if cfg.Vector.Backend != "qdrant" {
		a.Index = vectorindex.NewMemoryIndex(cfg.Vector.Dimension)
		return nil
	}
	repo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Vector.Dimension,
	})
	if err != nil {
		return fmt.Errorf("init qdrant: %w", err)
	}
	a.closers = append(a.closers, repo.Close)
	if err := repo.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure qdrant collection: %w", err)
	}
	a.Index = vectorindex.NewQdrantIndex(repo, cfg.Vector.Dimension)
	return nil
}

func newRegistry(cfg *config.SourcesConfig) *source.Registry {
	r := source.NewRegistry()
	if cfg.Arxiv.Enabled {
		r.Register(arxiv.New(arxiv.Config{
			BaseURL:    cfg.Arxiv.BaseURL,
			RateLimit:  cfg.Arxiv.RateLimit,
			Categories: cfg.Arxiv.Categories,
		}))
	}
	if cfg.OpenAlex.Enabled {
		r.Register(openalex.New(openalex.Config{
			BaseURL:   cfg.OpenAlex.BaseURL,
			Email:     cfg.OpenAlex.Email,
			RateLimit: cfg.OpenAlex.RateLimit,
		}))
	}
	if cfg.Staging.Enabled {
		r.Register(staging.NewAdapter(cfg.Staging.BasePath, cfg.Staging.SourceID))
	}
	return r
}

// newArchive returns nil when archiving is disabled.
func newArchive(ctx context.Context, cfg *config.StorageConfig) (storage.ObjectStorage, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if s3, ok := store.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure storage bucket: %w", err)
		}
	}
	return store, nil
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Close failed: %v", err)
		}
	}
	a.closers = nil
}
