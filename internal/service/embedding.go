package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/metrics"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	jinaBaseURL   = "https://api.jina.ai/v1"
)

// Embedder produces embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryEmbedder is implemented by embedders that encode search queries
// differently from stored passages.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// EmbeddingService handles text embedding generation
type EmbeddingService struct {
	client     *resty.Client
	provider   string
	model      string
	endpoint   string
	dimensions int
}

// EmbeddingConfig holds configuration for embedding service
type EmbeddingConfig struct {
	Provider   string // openai | jina
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg *EmbeddingConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
		if cfg.Provider == "jina" {
			baseURL = jinaBaseURL
		}
	}

	return &EmbeddingService{
		client:     client,
		provider:   cfg.Provider,
		model:      cfg.Model,
		endpoint:   strings.TrimRight(baseURL, "/") + "/embeddings",
		dimensions: cfg.Dimensions,
	}
}

// embeddingRequest covers both the OpenAI and Jina request shapes.
type embeddingRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates an embedding for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, domain.NewProviderError("embedding", fmt.Errorf("%w: no embedding returned", domain.ErrMalformedResponse))
	}
	return embeddings[0], nil
}

// EmbedQuery generates an embedding optimized for query/search
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := s.embed(ctx, []string{query}, "retrieval.query")
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return s.embed(ctx, texts, "retrieval.passage")
}

func (s *EmbeddingService) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	req := embeddingRequest{
		Model:      s.model,
		Dimensions: s.dimensions,
		Input:      texts,
	}
	if s.provider == "jina" {
		req.Task = task
		req.EmbeddingType = "float"
	}

	var resp embeddingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, domain.NewProviderError("embedding", fmt.Errorf("failed to call %s API: %w", s.provider, err))
	}

	if httpResp.StatusCode() != http.StatusOK {
		switch {
		case resp.Detail != "":
			return nil, domain.NewProviderError("embedding", fmt.Errorf("API error: %s", resp.Detail))
		case resp.Error != nil && resp.Error.Message != "":
			return nil, domain.NewProviderError("embedding", fmt.Errorf("API error: %s", resp.Error.Message))
		}
		return nil, domain.NewProviderError("embedding", fmt.Errorf("API error: status %d", httpResp.StatusCode()))
	}

	if len(resp.Data) != len(texts) {
		return nil, domain.NewProviderError("embedding", fmt.Errorf("%w: got %d embeddings, expected %d",
			domain.ErrMalformedResponse, len(resp.Data), len(texts)))
	}

	// Sort by index to ensure correct order
	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	return embeddings, nil
}

// EmbeddingGateway wraps an Embedder so that callers always receive a
// vector of the configured dimension. Failures yield the zero vector.
type EmbeddingGateway struct {
	embedder  Embedder
	dimension int
	timeout   time.Duration
}

// NewEmbeddingGateway creates a gateway.
// Parameters:
//   - embedder: provider client; nil makes every call return the zero vector.
//   - dimension: expected vector length.
//   - timeout: per-call deadline; zero disables it.
//
// Returns:
//   - *EmbeddingGateway: the gateway.
func NewEmbeddingGateway(embedder Embedder, dimension int, timeout time.Duration) *EmbeddingGateway {
	return &EmbeddingGateway{embedder: embedder, dimension: dimension, timeout: timeout}
}

// Dimension returns the vector length produced by Embed.
func (g *EmbeddingGateway) Dimension() int {
	return g.dimension
}

// Embed never fails: on provider error, timeout or a dimension mismatch it
// logs, counts the failure and returns a zero vector.
func (g *EmbeddingGateway) Embed(ctx context.Context, text string) []float32 {
	if g.embedder == nil {
		return make([]float32, g.dimension)
	}
	return g.embed(ctx, text, g.embedder.Embed)
}

// EmbedQuery is Embed for search queries. It uses the query encoding when
// the embedder has one and the passage encoding otherwise.
func (g *EmbeddingGateway) EmbedQuery(ctx context.Context, query string) []float32 {
	if qe, ok := g.embedder.(QueryEmbedder); ok {
		return g.embed(ctx, query, qe.EmbedQuery)
	}
	return g.Embed(ctx, query)
}

func (g *EmbeddingGateway) embed(ctx context.Context, text string, fn func(context.Context, string) ([]float32, error)) []float32 {
	if strings.TrimSpace(text) == "" {
		return make([]float32, g.dimension)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	vec, err := fn(callCtx, text)
	if err == nil && len(vec) != g.dimension {
		err = fmt.Errorf("%w: embedding dimension %d, expected %d", domain.ErrMalformedResponse, len(vec), g.dimension)
	}
	if err != nil {
		metrics.EmbeddingFailures.Inc()
		logger.FromContext(ctx).WithError(err).Warn("Embedding failed, using zero vector")
		return make([]float32, g.dimension)
	}
	return vec
}
