package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the interface for text-generation backends.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
}

// Request is a single generation call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ModelChoice selects exactly one provider. There is no cross-model fallback.
type ModelChoice string

const (
	ModelOpenAI    ModelChoice = "openai"
	ModelAnthropic ModelChoice = "anthropic"
	ModelOllama    ModelChoice = "ollama"
)

// Models lists every supported choice.
var Models = []ModelChoice{ModelOpenAI, ModelAnthropic, ModelOllama}

// ParseModelChoice validates a model name from a request.
func ParseModelChoice(s string) (ModelChoice, error) {
	m := ModelChoice(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Models {
		if m == known {
			return m, nil
		}
	}
	return "", &ConfigurationError{Provider: s, Reason: fmt.Sprintf("unknown model %q", s)}
}
