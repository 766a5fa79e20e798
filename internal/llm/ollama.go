package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/contentforge/internal/config"
)

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg config.ProviderConfig) *OllamaProvider {
	return &OllamaProvider{
		Model:   cfg.Model,
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newHTTPClient(),
	}
}

func (o *OllamaProvider) Name() string { return string(ModelOllama) }

// IsConfigured reports whether a model and endpoint are set. Ollama needs no credential.
func (o *OllamaProvider) IsConfigured() bool {
	return o.Model != "" && o.BaseURL != ""
}

// Available checks if Ollama is running and the model is pulled.
func (o *OllamaProvider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	slog.Warn("ollama model not found", "model", o.Model)
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	if !o.IsConfigured() {
		return "", &ConfigurationError{Provider: o.Name(), Reason: "model or base_url not set"}
	}

	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"stream":  false,
		"options": options,
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.Name(), o.BaseURL+"/api/chat", nil, body, &result); err != nil {
		return "", err
	}
	if result.Message.Content == "" {
		return "", &ProviderError{Provider: o.Name(), StatusCode: http.StatusOK, Body: "empty message in response"}
	}
	return result.Message.Content, nil
}
