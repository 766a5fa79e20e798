// Package imagegen creates featured images for articles.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TobiSchelling/contentforge/internal/config"
	"github.com/TobiSchelling/contentforge/internal/database"
)

// Image is a generated picture.
type Image struct {
	Data        []byte
	ContentType string
}

// Generator produces an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

// OpenAI calls the OpenAI images API.
type OpenAI struct {
	model   string
	size    string
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI builds an image generator from configuration.
func NewOpenAI(cfg config.Images) *OpenAI {
	baseURL := cfg.Provider.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		model:   cfg.Provider.Model,
		size:    cfg.Size,
		apiKey:  cfg.Provider.APIKey(),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 3 * time.Minute},
	}
}

// IsConfigured reports whether an API key is available.
func (o *OpenAI) IsConfigured() bool {
	return o.apiKey != ""
}

// Generate requests a single base64-encoded image.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (*Image, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("image generation misconfigured: API key not set")
	}

	body, err := json.Marshal(map[string]any{
		"model":  o.model,
		"prompt": prompt,
		"size":   o.size,
		"n":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("image API error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var result struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding image response: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image API returned no image")
	}

	data, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decoding image data: %w", err)
	}
	return &Image{Data: data, ContentType: http.DetectContentType(data)}, nil
}

var categoryStyle = map[database.Category]string{
	database.CategoryNews:       "an editorial news illustration",
	database.CategoryGuide:      "a clean explanatory illustration",
	database.CategoryComparison: "a side-by-side comparison illustration",
	database.CategoryDeal:       "a bright promotional illustration",
}

// Prompt builds the image prompt for an article.
func Prompt(title string, category database.Category) string {
	style, ok := categoryStyle[category]
	if !ok {
		style = "a clean editorial illustration"
	}
	return fmt.Sprintf("%s for a blog article titled %q about streaming services. "+
		"Modern flat design, no text, no logos, wide landscape composition.", capitalize(style), title)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
