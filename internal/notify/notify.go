// Package notify announces newly published articles to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Event describes a published article.
type Event struct {
	ArticleID int64  `json:"articleId"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Language  string `json:"language"`
	URL       string `json:"url"`
}

// Notifier delivers publish events.
type Notifier interface {
	ArticlePublished(ctx context.Context, e Event) error
}

// Webhook posts events as JSON.
type Webhook struct {
	url    string
	client *http.Client
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook returns a webhook notifier, or nil when url is empty.
func NewWebhook(url string) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

// ArticlePublished posts the event.
func (w *Webhook) ArticlePublished(ctx context.Context, e Event) error {
	if w == nil || w.url == "" {
		return fmt.Errorf("webhook notifier misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"event":   "article.published",
		"article": e,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}
