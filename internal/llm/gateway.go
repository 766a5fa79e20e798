package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/contentforge/internal/config"
)

// MaxAttempts bounds the calls made for one Generate.
const MaxAttempts = 3

// Gateway routes generation calls to the provider selected by ModelChoice
// and retries failed calls with linear backoff.
type Gateway struct {
	providers  map[ModelChoice]Provider
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewGateway builds a gateway with every configured backend registered.
func NewGateway(cfg config.Generation, logger *slog.Logger) *Gateway {
	return NewGatewayWithProviders(map[ModelChoice]Provider{
		ModelOpenAI:    NewOpenAIProvider(cfg.OpenAI),
		ModelAnthropic: NewAnthropicProvider(cfg.Anthropic),
		ModelOllama:    NewOllamaProvider(cfg.Ollama),
	}, cfg.RetryDelay, logger)
}

// NewGatewayWithProviders builds a gateway over an explicit provider set.
func NewGatewayWithProviders(providers map[ModelChoice]Provider, retryDelay time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{providers: providers, retryDelay: retryDelay, logger: logger}
}

// Provider returns the backend registered for a model.
func (g *Gateway) Provider(model ModelChoice) (Provider, bool) {
	p, ok := g.providers[model]
	return p, ok
}

// Checker is implemented by backends that can tell whether they are reachable.
type Checker interface {
	Available(ctx context.Context) bool
}

// ProviderStatus describes one backend in a status report.
type ProviderStatus struct {
	Model      ModelChoice
	Registered bool
	Configured bool
	// Reachable is nil when the backend has no health check or is not configured.
	Reachable *bool
}

// Report describes every supported model in Models order.
func (g *Gateway) Report(ctx context.Context) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(Models))
	for _, m := range Models {
		st := ProviderStatus{Model: m}
		p, ok := g.Provider(m)
		if ok {
			st.Registered = true
			st.Configured = p.IsConfigured()
			if c, isChecker := p.(Checker); isChecker && st.Configured {
				up := c.Available(ctx)
				st.Reachable = &up
			}
		}
		out = append(out, st)
	}
	return out
}

// Generate produces text for prompt with the selected model. Each failed call
// is retried, waiting attempt × retry delay, up to MaxAttempts.
func (g *Gateway) Generate(ctx context.Context, prompt string, model ModelChoice, maxTokens int, temperature float64) (string, error) {
	if maxTokens < 0 {
		return "", fmt.Errorf("maxTokens must not be negative, got %d", maxTokens)
	}

	provider, ok := g.providers[model]
	if !ok {
		return "", &ConfigurationError{Provider: string(model), Reason: fmt.Sprintf("unknown model %q", model)}
	}
	if !provider.IsConfigured() {
		return "", &ConfigurationError{Provider: provider.Name(), Reason: "missing credential"}
	}

	req := Request{Prompt: prompt, MaxTokens: maxTokens, Temperature: temperature}

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		text, err := provider.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s generation cancelled: %w", provider.Name(), err)
		}

		g.logger.Warn("generation attempt failed",
			"provider", provider.Name(), "attempt", attempt, "error", err)

		if attempt < MaxAttempts {
			if err := sleep(ctx, time.Duration(attempt)*g.retryDelay); err != nil {
				return "", fmt.Errorf("%s generation cancelled: %w", provider.Name(), lastErr)
			}
		}
	}

	return "", fmt.Errorf("%s generation failed after %d attempts: %w", provider.Name(), MaxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
