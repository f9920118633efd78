package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/timmy/paperpilot/internal/domain"
)

// ChatMessage is one OpenAI-style chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes one completion call.
type ChatOptions struct {
	MaxTokens   int
	Temperature float32
}

// ChatCompleter returns the assistant text for a conversation.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)
}

// ChatClientConfig holds configuration for the chat client.
type ChatClientConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ChatClient calls an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	client   *resty.Client
	model    string
	endpoint string
}

// NewChatClient creates a new chat client.
func NewChatClient(cfg *ChatClientConfig) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &ChatClient{
		client:   client,
		model:    cfg.Model,
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one non-streaming completion request. Failures are
// returned as provider errors.
func (c *ChatClient) Complete(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(c.endpoint)
	if err != nil {
		return "", domain.NewProviderError("llm", fmt.Errorf("request failed: %w", err))
	}

	if httpResp.StatusCode() != http.StatusOK {
		if resp.Error != nil && resp.Error.Message != "" {
			return "", domain.NewProviderError("llm", fmt.Errorf("API error: %s", resp.Error.Message))
		}
		return "", domain.NewProviderError("llm", fmt.Errorf("API error: status %d", httpResp.StatusCode()))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", domain.NewProviderError("llm", fmt.Errorf("%w: empty completion", domain.ErrMalformedResponse))
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSON returns the first balanced {...} object in content, skipping
// a leading <think></think> block and ignoring braces inside strings.
func extractJSON(content string) (string, error) {
	if start := strings.Index(content, "<think>"); start != -1 {
		if end := strings.Index(content, "</think>"); end > start {
			content = content[end+len("</think>"):]
		}
	}

	jsonStart := strings.Index(content, "{")
	if jsonStart == -1 {
		return "", fmt.Errorf("%w: no JSON found in response", domain.ErrMalformedResponse)
	}

	braceCount := 0
	inString := false
	escaped := false
	for i := jsonStart; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return content[jsonStart : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: incomplete JSON in response", domain.ErrMalformedResponse)
}

// decodeJSONReply extracts and decodes the JSON object in content into v.
func decodeJSONReply(content string, v interface{}) error {
	raw, err := extractJSON(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return nil
}
