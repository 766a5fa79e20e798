// Package scrape fetches page text through paid scraping APIs with a
// primary/fallback discipline.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/TobiSchelling/contentforge/internal/config"
)

// DefaultMinLength is the shortest content accepted from a provider.
const DefaultMinLength = 200

// Provider is one scraping backend.
type Provider interface {
	Name() string
	IsConfigured() bool
	Scrape(ctx context.Context, url string) (string, error)
}

// Result is scraped content tagged with the provider that produced it.
type Result struct {
	Content  string
	Provider string
}

// ProviderError is a non-2xx answer or unusable body from a scraping API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ErrFallbackUnavailable is wrapped when the primary failed and no fallback is configured.
var ErrFallbackUnavailable = errors.New("fallback unavailable")

// Gateway tries the primary provider and falls through to the fallback on
// error or on content shorter than the minimum length. Content from the two
// providers is never mixed.
type Gateway struct {
	primary   Provider
	fallback  Provider
	minLength int
	logger    *slog.Logger
}

// NewGateway wires Firecrawl as primary and ScraperAPI as fallback.
func NewGateway(cfg config.Scrape, logger *slog.Logger) *Gateway {
	return NewGatewayWithProviders(
		NewFirecrawl(cfg.Firecrawl, cfg.Timeout),
		NewScraperAPI(cfg.ScraperAPI, cfg.Timeout),
		cfg.MinLength,
		logger,
	)
}

// NewGatewayWithProviders builds a gateway over explicit providers. fallback may be nil.
func NewGatewayWithProviders(primary, fallback Provider, minLength int, logger *slog.Logger) *Gateway {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{primary: primary, fallback: fallback, minLength: minLength, logger: logger}
}

// Scrape returns content for url from the first provider that yields enough text.
func (g *Gateway) Scrape(ctx context.Context, url string) (Result, error) {
	content, err := g.try(ctx, g.primary, url)
	if err == nil {
		return Result{Content: content, Provider: g.primary.Name()}, nil
	}

	g.logger.Warn("primary scrape failed", "provider", g.primary.Name(), "url", url, "error", err)

	if g.fallback == nil || !g.fallback.IsConfigured() {
		return Result{}, fmt.Errorf("scraping %s: %s: %w; %w", url, g.primary.Name(), err, ErrFallbackUnavailable)
	}

	content, fbErr := g.try(ctx, g.fallback, url)
	if fbErr == nil {
		return Result{Content: content, Provider: g.fallback.Name()}, nil
	}

	return Result{}, fmt.Errorf("scraping %s: %s: %w; %s: %w", url, g.primary.Name(), err, g.fallback.Name(), fbErr)
}

func (g *Gateway) try(ctx context.Context, p Provider, url string) (string, error) {
	if !p.IsConfigured() {
		return "", fmt.Errorf("%s not configured", p.Name())
	}
	content, err := p.Scrape(ctx, url)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n < g.minLength {
		return "", fmt.Errorf("content too short (%d < %d chars)", n, g.minLength)
	}
	return content, nil
}
