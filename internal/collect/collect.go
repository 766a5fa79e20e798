// Package collect runs the scraping jobs whose results ground article
// generation and automatic topic selection.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TobiSchelling/contentforge/internal/config"
	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/scrape"
)

const maxSummaryRunes = 300

// Store persists scrape results.
type Store interface {
	InsertScrapeResult(ctx context.Context, r *database.ScrapeResult) (int64, error)
}

// Scraper fetches page content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (scrape.Result, error)
}

// Result holds the counts of one collection run.
type Result struct {
	Pricing int
	News    int
	Failed  int
}

// Collector records pricing and news scrape results.
type Collector struct {
	store       Store
	scraper     Scraper
	feedParser  *FeedParser
	feeds       []FeedConfig
	newsClient  *NewsAPIClient
	newsQuery   string
	pricingURLs []string
	daysBack    int
	logger      *slog.Logger
	now         func() time.Time
}

// NewCollector creates a collector from configuration.
func NewCollector(cfg config.Collect, store Store, scraper Scraper, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		store:       store,
		scraper:     scraper,
		feedParser:  NewFeedParser(),
		pricingURLs: cfg.PricingURLs,
		daysBack:    cfg.DaysBack,
		logger:      logger,
		now:         time.Now,
	}
	if c.daysBack <= 0 {
		c.daysBack = 7
	}

	for _, f := range cfg.Feeds {
		c.feeds = append(c.feeds, FeedConfig{URL: f.URL, Name: f.Name})
	}

	if cfg.NewsAPI.Enabled {
		c.newsClient = NewNewsAPIClient(cfg.NewsAPI.APIKeyEnv)
		c.newsQuery = cfg.NewsAPI.Query
		if c.newsQuery == "" {
			c.newsQuery = "streaming service prices"
		}
	}
	return c
}

// Collect runs the pricing and news collections.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	r := &Result{}
	if err := c.CollectPricing(ctx, r); err != nil {
		return r, err
	}
	if err := c.CollectNews(ctx, r); err != nil {
		return r, err
	}
	c.logger.Info("collection complete", "pricing", r.Pricing, "news", r.News, "failed", r.Failed)
	return r, nil
}

// CollectPricing scrapes every pricing page into its own result.
func (c *Collector) CollectPricing(ctx context.Context, r *Result) error {
	if c.scraper == nil {
		return nil
	}
	for _, pageURL := range c.pricingURLs {
		started := c.now().UTC()
		res, err := c.scraper.Scrape(ctx, pageURL)
		if err != nil {
			c.logger.Warn("pricing scrape failed", "url", pageURL, "error", err)
			r.Failed++
			if err := c.record(ctx, database.ScrapePricing, pageURL, started, "", err); err != nil {
				return err
			}
			continue
		}
		r.Pricing++
		text := fmt.Sprintf("Source: %s (via %s)\n\n%s", pageURL, res.Provider, res.Content)
		if err := c.record(ctx, database.ScrapePricing, pageURL, started, text, nil); err != nil {
			return err
		}
	}
	return nil
}

// CollectNews gathers headlines from feeds and NewsAPI, one result per source.
func (c *Collector) CollectNews(ctx context.Context, r *Result) error {
	cutoff := c.now().AddDate(0, 0, -c.daysBack)

	for _, fc := range c.feeds {
		started := c.now().UTC()
		items, err := c.feedParser.Parse(ctx, fc, cutoff)
		if err == nil && len(items) == 0 {
			err = fmt.Errorf("no items within %d days", c.daysBack)
		}
		if err := c.recordNews(ctx, r, fc.URL, started, items, err); err != nil {
			return err
		}
	}

	if c.newsClient != nil && c.newsClient.IsConfigured() {
		started := c.now().UTC()
		items, err := c.newsClient.Search(ctx, c.newsQuery, c.daysBack, 50)
		if err == nil && len(items) == 0 {
			err = fmt.Errorf("no articles for query %q", c.newsQuery)
		}
		if err := c.recordNews(ctx, r, "newsapi", started, items, err); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) recordNews(ctx context.Context, r *Result, source string, started time.Time, items []NewsItem, runErr error) error {
	if runErr != nil {
		c.logger.Warn("news collection failed", "source", source, "error", runErr)
		r.Failed++
		return c.record(ctx, database.ScrapeNews, source, started, "", runErr)
	}
	r.News++
	c.logger.Info("collected news", "source", source, "items", len(items))
	return c.record(ctx, database.ScrapeNews, source, started, FormatNews(items), nil)
}

func (c *Collector) record(ctx context.Context, typ database.ScrapeType, source string, started time.Time, text string, runErr error) error {
	completed := c.now().UTC()
	sr := &database.ScrapeResult{
		Type:        typ,
		Source:      source,
		StartedAt:   started,
		CompletedAt: &completed,
		CreatedAt:   completed,
	}
	if runErr != nil {
		msg := runErr.Error()
		sr.Status = database.ScrapeFailed
		sr.Error = &msg
	} else {
		sr.Status = database.ScrapeCompleted
		sr.Result = &text
	}
	if _, err := c.store.InsertScrapeResult(ctx, sr); err != nil {
		return fmt.Errorf("recording %s scrape of %s: %w", typ, source, err)
	}
	return nil
}

// FormatNews renders headlines as a plain-text digest.
func FormatNews(items []NewsItem) string {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s (%s", it.Title, it.Source)
		if it.PublishedDate != "" {
			fmt.Fprintf(&b, ", %s", it.PublishedDate)
		}
		b.WriteString(")\n")
		if s := clipRunes(it.Summary, maxSummaryRunes); s != "" {
			fmt.Fprintf(&b, "  %s\n", s)
		}
		fmt.Fprintf(&b, "  %s\n", it.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clipRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
