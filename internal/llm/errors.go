package llm

import "fmt"

// ProviderError is an upstream rejection: a non-2xx answer or an unusable body.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, truncate(e.Body, 300))
}

// ConfigurationError means a provider cannot be called at all. It is never retried.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s not configured: %s", e.Provider, e.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
