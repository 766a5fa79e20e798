package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient fetches articles from NewsAPI.
type NewsAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewNewsAPIClient creates a new NewsAPI client.
func NewNewsAPIClient(apiKeyEnv string) *NewsAPIClient {
	return &NewsAPIClient{
		apiKey:  os.Getenv(apiKeyEnv),
		baseURL: newsAPIBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search searches for articles matching a query published in the last daysBack days.
func (c *NewsAPIClient) Search(ctx context.Context, query string, daysBack, pageSize int) ([]NewsItem, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("newsapi: API key not set")
	}

	fromDate := time.Now().AddDate(0, 0, -daysBack).Format("2006-01-02")
	toDate := time.Now().Format("2006-01-02")

	if pageSize > 100 {
		pageSize = 100
	}

	params := url.Values{
		"q":        {query},
		"from":     {fromDate},
		"to":       {toDate},
		"language": {"en"},
		"pageSize": {fmt.Sprintf("%d", pageSize)},
		"sortBy":   {"publishedAt"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating newsapi request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi returned %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding newsapi response: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %q: %s", result.Status, result.Message)
	}

	var items []NewsItem
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var pubDate string
		if a.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
				pubDate = t.Format("2006-01-02")
			}
		}

		summary := a.Description
		if summary == "" {
			summary = a.Content
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		items = append(items, NewsItem{
			URL:           a.URL,
			Title:         strings.TrimSpace(a.Title),
			PublishedDate: pubDate,
			Summary:       strings.TrimSpace(summary),
			Source:        source,
		})
	}
	return items, nil
}
