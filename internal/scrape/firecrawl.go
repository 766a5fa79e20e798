package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/contentforge/internal/config"
)

// Firecrawl calls the Firecrawl scrape API, which returns page markdown.
type Firecrawl struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewFirecrawl creates the primary scraping provider.
func NewFirecrawl(cfg config.ProviderConfig, timeout time.Duration) *Firecrawl {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Firecrawl{
		APIKey:  cfg.APIKey(),
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (f *Firecrawl) Name() string { return "firecrawl" }

func (f *Firecrawl) IsConfigured() bool { return f.APIKey != "" && f.BaseURL != "" }

func (f *Firecrawl) Scrape(ctx context.Context, pageURL string) (string, error) {
	data, err := json.Marshal(map[string]any{
		"url":             pageURL,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/scrape", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.APIKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("firecrawl request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &ProviderError{Provider: f.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    struct {
			Markdown string `json:"markdown"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ProviderError{Provider: f.Name(), StatusCode: resp.StatusCode, Body: "decoding response: " + err.Error()}
	}
	if !result.Success {
		return "", &ProviderError{Provider: f.Name(), StatusCode: resp.StatusCode, Body: result.Error}
	}
	return result.Data.Markdown, nil
}
