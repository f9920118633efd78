package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	URL             string        `mapstructure:"url"`
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return c.Path
}

type VectorConfig struct {
	Backend   string `mapstructure:"backend"` // memory | qdrant
	Dimension int    `mapstructure:"dimension"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type LLMConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Consecutive failures before the re-ranker circuit opens.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"` // openai | jina
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	BranchTimeout  time.Duration `mapstructure:"branch_timeout"`
	LocalLimit     int           `mapstructure:"local_limit"`
	ConnectorLimit int           `mapstructure:"connector_limit"`
	DefaultTopK    int           `mapstructure:"default_top_k"`
	PrefilterLimit int           `mapstructure:"prefilter_limit"`
	MinRelevance   float64       `mapstructure:"min_relevance"`
	ResultTTL      time.Duration `mapstructure:"result_ttl"`
	SourceTTL      time.Duration `mapstructure:"source_ttl"`
	KeywordTTL     time.Duration `mapstructure:"keyword_ttl"`
}

type CacheConfig struct {
	MaxEntries        int           `mapstructure:"max_entries"`
	RecommendationTTL time.Duration `mapstructure:"recommendation_ttl"`
}

type SourcesConfig struct {
	Arxiv    ArxivConfig    `mapstructure:"arxiv"`
	OpenAlex OpenAlexConfig `mapstructure:"openalex"`
	Staging  StagingConfig  `mapstructure:"staging"`
}

type ArxivConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	BaseURL    string   `mapstructure:"base_url"`
	RateLimit  float64  `mapstructure:"rate_limit"` // requests per second
	Categories []string `mapstructure:"categories"` // crawled by FetchLatest
}

type OpenAlexConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	BaseURL   string  `mapstructure:"base_url"`
	Email     string  `mapstructure:"email"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

type StagingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BasePath string `mapstructure:"base_path"`
	SourceID string `mapstructure:"source_id"`
}

type IngestConfig struct {
	Workers         int  `mapstructure:"workers"`
	BatchSize       int  `mapstructure:"batch_size"`
	AsyncEmbeddings bool `mapstructure:"async_embeddings"`
}

type JobsConfig struct {
	Topic          string        `mapstructure:"topic"`
	CrawlInterval  time.Duration `mapstructure:"crawl_interval"`
	TrendsInterval time.Duration `mapstructure:"trends_interval"`
	CrawlDays      int           `mapstructure:"crawl_days"`
	TrendDays      int           `mapstructure:"trend_days"`
	TrendClusters  int           `mapstructure:"trend_clusters"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("llm.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.base_url", "OPENAI_BASE_URL")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("embedding.model", "EMBEDDING_MODEL")
	v.BindEnv("sources.openalex.email", "OPENALEX_EMAIL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Embedding key falls back to the LLM key for OpenAI-compatible providers.
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/papers.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.dimension", 1536)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "papers")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "paperpilot")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("llm.enabled", true)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.breaker_failures", 5)
	v.SetDefault("llm.breaker_timeout", time.Minute)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", 10*time.Second)

	v.SetDefault("search.branch_timeout", 10*time.Second)
	v.SetDefault("search.local_limit", 50)
	v.SetDefault("search.connector_limit", 20)
	v.SetDefault("search.default_top_k", 20)
	v.SetDefault("search.prefilter_limit", 50)
	v.SetDefault("search.min_relevance", 6.0)
	v.SetDefault("search.result_ttl", time.Hour)
	v.SetDefault("search.source_ttl", time.Hour)
	v.SetDefault("search.keyword_ttl", 10*time.Minute)

	v.SetDefault("cache.max_entries", 4096)
	v.SetDefault("cache.recommendation_ttl", 24*time.Hour)

	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api/query")
	v.SetDefault("sources.arxiv.rate_limit", 0.33)
	v.SetDefault("sources.arxiv.categories", []string{"cs.AI", "cs.CL", "cs.IR", "cs.LG"})
	v.SetDefault("sources.openalex.enabled", true)
	v.SetDefault("sources.openalex.base_url", "https://api.openalex.org/works")
	v.SetDefault("sources.openalex.rate_limit", 5.0)
	v.SetDefault("sources.staging.enabled", false)
	v.SetDefault("sources.staging.base_path", "./data/staging")
	v.SetDefault("sources.staging.source_id", "local")

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.async_embeddings", false)

	v.SetDefault("jobs.topic", "paperpilot.jobs")
	v.SetDefault("jobs.crawl_interval", 24*time.Hour)
	v.SetDefault("jobs.trends_interval", 7*24*time.Hour)
	v.SetDefault("jobs.crawl_days", 2)
	v.SetDefault("jobs.trend_days", 7)
	v.SetDefault("jobs.trend_clusters", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database: url is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}

	switch c.Vector.Backend {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("vector: unknown backend %q", c.Vector.Backend)
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector: dimension must be positive")
	}
	// The papers.embedding column is declared as vector(1536).
	if c.Database.Driver == "postgres" && c.Vector.Dimension != 1536 {
		return fmt.Errorf("vector: dimension must be 1536 with postgres, got %d", c.Vector.Dimension)
	}
	if c.Embedding.Dimensions != c.Vector.Dimension {
		return fmt.Errorf("embedding dimensions %d do not match vector dimension %d",
			c.Embedding.Dimensions, c.Vector.Dimension)
	}

	switch c.Embedding.Provider {
	case "openai", "jina":
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider)
	}

	if c.Search.MinRelevance < 0 || c.Search.MinRelevance > 10 {
		return fmt.Errorf("search: min_relevance must be within [0, 10]")
	}
	return nil
}
