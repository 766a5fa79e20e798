package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/contentforge/internal/config"
	"github.com/TobiSchelling/contentforge/internal/logging"
)

type fakeProvider struct {
	name       string
	configured bool
	content    string
	err        error
	calls      atomic.Int32
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) Scrape(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	return f.content, f.err
}

var longText = strings.Repeat("streaming prices ", 20)

func TestScrapePrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "firecrawl", configured: true, content: longText}
	fallback := &fakeProvider{name: "scraperapi", configured: true, content: longText}
	g := NewGatewayWithProviders(primary, fallback, 200, logging.Discard())

	res, err := g.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "firecrawl", res.Provider)
	assert.Equal(t, int32(0), fallback.calls.Load())
}

func TestScrapeFallsBackOnShortContent(t *testing.T) {
	primary := &fakeProvider{name: "firecrawl", configured: true, content: "tiny"}
	fallback := &fakeProvider{name: "scraperapi", configured: true, content: longText}
	g := NewGatewayWithProviders(primary, fallback, 200, logging.Discard())

	res, err := g.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "scraperapi", res.Provider)
	assert.Equal(t, strings.TrimSpace(longText), res.Content)
}

func TestScrapeFallsBackOnError(t *testing.T) {
	primary := &fakeProvider{name: "firecrawl", configured: true, err: errors.New("timeout")}
	fallback := &fakeProvider{name: "scraperapi", configured: true, content: longText}
	g := NewGatewayWithProviders(primary, fallback, 200, logging.Discard())

	res, err := g.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "scraperapi", res.Provider)
}

func TestScrapeFallbackUnavailable(t *testing.T) {
	primary := &fakeProvider{name: "firecrawl", configured: true, err: errors.New("timeout")}
	fallback := &fakeProvider{name: "scraperapi", configured: false}
	g := NewGatewayWithProviders(primary, fallback, 200, logging.Discard())

	_, err := g.Scrape(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFallbackUnavailable)
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, int32(0), fallback.calls.Load())
}

func TestScrapeBothFail(t *testing.T) {
	primary := &fakeProvider{name: "firecrawl", configured: true, err: errors.New("primary down")}
	fallback := &fakeProvider{name: "scraperapi", configured: true, err: errors.New("fallback down")}
	g := NewGatewayWithProviders(primary, fallback, 200, logging.Discard())

	_, err := g.Scrape(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")
}

func TestScrapePrimaryUnconfiguredUsesFallback(t *testing.T) {
	primary := &fakeProvider{name: "firecrawl", configured: false}
	fallback := &fakeProvider{name: "scraperapi", configured: true, content: longText}
	g := NewGatewayWithProviders(primary, fallback, 200, logging.Discard())

	res, err := g.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "scraperapi", res.Provider)
	assert.Equal(t, int32(0), primary.calls.Load())
}

type urlProvider struct {
	failing map[string]bool
}

func (u *urlProvider) Name() string       { return "firecrawl" }
func (u *urlProvider) IsConfigured() bool { return true }

func (u *urlProvider) Scrape(_ context.Context, url string) (string, error) {
	if u.failing[url] {
		return "", errors.New("blocked")
	}
	return longText + url, nil
}

func TestFanOutPartialFailure(t *testing.T) {
	p := &urlProvider{failing: map[string]bool{"https://b.example": true}}
	g := NewGatewayWithProviders(p, nil, 200, logging.Discard())

	ok, failed, err := g.FanOut(context.Background(), []Source{
		{Name: "a", URL: "https://a.example"},
		{Name: "b", URL: "https://b.example"},
		{Name: "c", URL: "https://c.example"},
	}, 2)
	require.NoError(t, err)
	assert.Len(t, ok, 2)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Source.Name)
}

func TestFanOutAllFail(t *testing.T) {
	p := &urlProvider{failing: map[string]bool{"https://a.example": true}}
	g := NewGatewayWithProviders(p, nil, 200, logging.Discard())

	_, failed, err := g.FanOut(context.Background(), []Source{{Name: "a", URL: "https://a.example"}}, 2)
	require.Error(t, err)
	assert.Len(t, failed, 1)
}

func TestFanOutNoSources(t *testing.T) {
	g := NewGatewayWithProviders(&urlProvider{}, nil, 200, logging.Discard())
	_, _, err := g.FanOut(context.Background(), nil, 2)
	assert.Error(t, err)
}

func TestFirecrawlHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scrape", r.URL.Path)
		assert.Equal(t, "Bearer fc-test", r.Header.Get("Authorization"))
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "https://example.com/page", body["url"])
		w.Write([]byte(`{"success":true,"data":{"markdown":"# Prices\n\nNetflix costs more"}}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_FIRECRAWL_KEY", "fc-test")
	f := NewFirecrawl(config.ProviderConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_FIRECRAWL_KEY"}, time.Second)
	require.True(t, f.IsConfigured())

	content, err := f.Scrape(context.Background(), "https://example.com/page")
	require.NoError(t, err)
	assert.Contains(t, content, "Netflix costs more")
}

func TestFirecrawlErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"success":false,"error":"out of credits"}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_FIRECRAWL_KEY", "fc-test")
	f := NewFirecrawl(config.ProviderConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_FIRECRAWL_KEY"}, time.Second)

	_, err := f.Scrape(context.Background(), "https://example.com/page")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusPaymentRequired, perr.StatusCode)
}

func TestScraperAPIExtractsText(t *testing.T) {
	paragraph := strings.Repeat("Disney Plus raised its monthly price again this year. ", 10)
	html := `<html><head><title>Prices</title></head><body>
		<nav>Home | About</nav>
		<article><h1>Streaming prices</h1><p>` + paragraph + `</p><p>` + paragraph + `</p></article>
		</body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sa-test", r.URL.Query().Get("api_key"))
		assert.Equal(t, "https://example.com/prices", r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}))
	defer srv.Close()

	t.Setenv("TEST_SCRAPERAPI_KEY", "sa-test")
	s := NewScraperAPI(config.ProviderConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_SCRAPERAPI_KEY"}, time.Second)

	content, err := s.Scrape(context.Background(), "https://example.com/prices")
	require.NoError(t, err)
	assert.Contains(t, content, "Disney Plus raised its monthly price")
	assert.NotContains(t, content, "<p>")
}
