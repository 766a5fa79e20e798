// Package content turns untrusted generation output into a structured article.
package content

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/llm"
)

const (
	MaxExcerptLength         = 300
	MaxMetaTitleLength       = 60
	MaxMetaDescriptionLength = 160
	DegradedExcerptLength    = 155
	UntitledTitle            = "Untitled article"
)

var now = time.Now

// Parsed is a normalized article payload.
type Parsed struct {
	Title           string
	Slug            string
	Excerpt         string
	Content         string
	MetaTitle       string
	MetaDescription string
	Category        database.Category
	Tags            []string
	// Degraded is set when no JSON object could be decoded and the raw
	// text was used as the body.
	Degraded bool
}

// Parse extracts an article from raw generation output. It never fails: text
// without a decodable JSON object degrades to a body-only article.
func Parse(raw string, expected database.Category) Parsed {
	if !expected.Valid() {
		expected = database.CategoryGuide
	}

	text := llm.StripCodeFences(raw)
	span, ok := llm.ExtractObject(text)
	if !ok {
		return degrade(raw, expected, "no JSON object found")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		return degrade(raw, expected, err.Error())
	}

	p := Parsed{
		Title:           strings.TrimSpace(stringField(payload, "title")),
		Excerpt:         clip(stringField(payload, "excerpt"), MaxExcerptLength),
		MetaDescription: clip(stringField(payload, "metaDescription"), MaxMetaDescriptionLength),
		Content:         stringField(payload, "content"),
		Tags:            tagsField(payload),
		Category:        expected,
	}
	if p.Title == "" {
		p.Title = UntitledTitle
	}

	metaTitle := strings.TrimSpace(stringField(payload, "metaTitle"))
	if metaTitle == "" {
		metaTitle = p.Title
	}
	p.MetaTitle = clip(metaTitle, MaxMetaTitleLength)

	p.Slug = Slugify(stringField(payload, "slug"))
	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	if p.Slug == "" {
		p.Slug = fallbackSlug()
	}

	if c := database.Category(strings.ToLower(strings.TrimSpace(stringField(payload, "category")))); c.Valid() {
		p.Category = c
	}
	return p
}

func degrade(raw string, expected database.Category, reason string) Parsed {
	slog.Warn("article payload degraded to raw text", "reason", reason)

	body := strings.TrimSpace(raw)
	return Parsed{
		Title:     UntitledTitle,
		Slug:      fallbackSlug(),
		Excerpt:   clip(PlainText(body), DegradedExcerptLength),
		Content:   RenderHTML(body),
		MetaTitle: UntitledTitle,
		Category:  expected,
		Tags:      []string{},
		Degraded:  true,
	}
}

func fallbackSlug() string {
	return fmt.Sprintf("article-%d", now().Unix())
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64, bool:
		return fmt.Sprint(v)
	}
	return ""
}

func tagsField(m map[string]any) []string {
	tags := []string{}
	switch v := m["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					tags = append(tags, s)
				}
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				tags = append(tags, s)
			}
		}
	}
	return tags
}

// clip trims s and cuts it to at most n runes.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
