package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/TobiSchelling/contentforge/internal/config"
)

// OpenAIProvider is an OpenAI chat-completions provider.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey(),
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

func (o *OpenAIProvider) Name() string { return string(ModelOpenAI) }

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	if o.APIKey == "" {
		return "", &ConfigurationError{Provider: o.Name(), Reason: "API key not set"}
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}
	if err := postJSON(ctx, o.client, o.Name(), o.BaseURL+"/chat/completions", headers, body, &result); err != nil {
		return "", err
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: o.Name(), StatusCode: http.StatusOK, Body: "no choices in response"}
	}
	return result.Choices[0].Message.Content, nil
}
