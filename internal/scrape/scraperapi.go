package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/contentforge/internal/config"
)

// ScraperAPI fetches raw HTML through the ScraperAPI proxy and extracts
// the readable text with readability.
type ScraperAPI struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewScraperAPI creates the fallback scraping provider.
func NewScraperAPI(cfg config.ProviderConfig, timeout time.Duration) *ScraperAPI {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ScraperAPI{
		APIKey:  cfg.APIKey(),
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *ScraperAPI) Name() string { return "scraperapi" }

func (s *ScraperAPI) IsConfigured() bool { return s.APIKey != "" && s.BaseURL != "" }

func (s *ScraperAPI) Scrape(ctx context.Context, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", pageURL, err)
	}

	q := url.Values{}
	q.Set("api_key", s.APIKey)
	q.Set("url", pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scraperapi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &ProviderError{Provider: s.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading scraperapi body: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(bodyBytes), parsedURL)
	if err != nil {
		return "", &ProviderError{Provider: s.Name(), StatusCode: resp.StatusCode, Body: "extracting text: " + err.Error()}
	}
	return strings.TrimSpace(article.TextContent), nil
}
