package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/TobiSchelling/contentforge/internal/config"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg config.ProviderConfig) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey(),
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

func (a *AnthropicProvider) Name() string { return string(ModelAnthropic) }

func (a *AnthropicProvider) IsConfigured() bool {
	return a.APIKey != ""
}

// Generate sends a single user message and concatenates the text blocks of the reply.
func (a *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	if a.APIKey == "" {
		return "", &ConfigurationError{Provider: a.Name(), Reason: "API key not set"}
	}

	// The messages API requires max_tokens.
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicMaxTokens
	}
	body := map[string]any{
		"model":       a.Model,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         a.APIKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, a.client, a.Name(), a.BaseURL+"/messages", headers, body, &result); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: a.Name(), StatusCode: http.StatusOK, Body: "no text content in response"}
	}
	return sb.String(), nil
}
