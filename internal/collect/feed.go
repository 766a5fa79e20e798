package collect

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/contentforge/internal/content"
)

const maxPerFeed = 20

// NewsItem is one headline gathered from a feed or NewsAPI.
type NewsItem struct {
	URL           string
	Title         string
	PublishedDate string // YYYY-MM-DD or empty
	Summary       string
	Source        string
}

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	parser *gofeed.Parser
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser() *FeedParser {
	return &FeedParser{parser: gofeed.NewParser()}
}

// Parse fetches one feed and returns its items published on or after cutoff.
func (fp *FeedParser) Parse(ctx context.Context, fc FeedConfig, cutoff time.Time) ([]NewsItem, error) {
	name := fc.Name
	if name == "" {
		name = extractSourceName(fc.URL)
	}

	feed, err := fp.parser.ParseURLWithContext(fc.URL, ctx)
	if err != nil {
		return nil, err
	}

	var items []NewsItem
	for _, item := range feed.Items {
		if len(items) >= maxPerFeed {
			break
		}

		entry := parseItem(item, name)
		if entry == nil {
			continue
		}
		if isWithinWindow(entry.PublishedDate, cutoff) {
			items = append(items, *entry)
		}
	}
	return items, nil
}

func parseItem(item *gofeed.Item, source string) *NewsItem {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var publishedDate string
	if item.PublishedParsed != nil {
		publishedDate = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		publishedDate = item.UpdatedParsed.Format("2006-01-02")
	}

	var summary string
	if item.Description != "" {
		summary = content.PlainText(item.Description)
	} else if item.Content != "" {
		summary = content.PlainText(item.Content)
	}

	return &NewsItem{
		URL:           itemURL,
		Title:         title,
		PublishedDate: publishedDate,
		Summary:       summary,
		Source:        source,
	}
}

func isWithinWindow(publishedDate string, cutoff time.Time) bool {
	if publishedDate == "" {
		return true // benefit of the doubt
	}
	pub, err := time.Parse("2006-01-02", publishedDate)
	if err != nil {
		return true
	}
	return !pub.Before(cutoff.Truncate(24 * time.Hour))
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
