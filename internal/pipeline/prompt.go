package pipeline

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/scrape"
)

const maxGroundingRunes = 6000

const articlePrompt = `You are a staff writer for a consumer website about streaming services and their prices.

Write a %s article in %s on this topic:
%s

Be specific and factual. Use prices, plan names and dates from the research below when they are relevant, and never invent prices that are not in the research. Write for readers deciding which services to pay for.

Research:
%s

Respond with ONLY this JSON:
{
    "title": "A clear, specific headline",
    "slug": "url-friendly-slug",
    "excerpt": "One or two sentence summary, at most 300 characters",
    "content": "The full article as HTML with <h2> section headings and <p> paragraphs",
    "metaTitle": "SEO title, at most 60 characters",
    "metaDescription": "SEO description, at most 160 characters",
    "category": "%s",
    "tags": ["three", "to", "six", "tags"]
}`

// GuessCategory infers the expected category from the topic wording.
func GuessCategory(topic string) database.Category {
	t := strings.ToLower(topic)
	switch {
	case strings.Contains(t, "compar") || strings.Contains(t, " vs ") || strings.Contains(t, " versus "):
		return database.CategoryComparison
	case strings.Contains(t, "deal") || strings.Contains(t, "discount") || strings.Contains(t, "free trial"):
		return database.CategoryDeal
	case strings.Contains(t, "news") || strings.Contains(t, "roundup") || strings.Contains(t, "this week"):
		return database.CategoryNews
	}
	return database.CategoryGuide
}

// BuildPrompt assembles the generation prompt and returns the grounding text
// it embeds, which is stored with the article.
func BuildPrompt(topic, language string, category database.Category, recent []database.ScrapeResult, research []scrape.SourceResult) (string, string) {
	grounding := formatGrounding(recent, research)
	if grounding == "" {
		grounding = "(no recent research available; write from general knowledge and avoid specific prices)"
	}
	prompt := fmt.Sprintf(articlePrompt, category, languageName(language), topic, grounding, category)
	return prompt, grounding
}

func formatGrounding(recent []database.ScrapeResult, research []scrape.SourceResult) string {
	var sections []string
	for _, r := range research {
		sections = append(sections, fmt.Sprintf("## %s (%s)\n%s", r.Source.Name, r.Source.URL, r.Result.Content))
	}
	for _, r := range recent {
		if !r.HasResult() {
			continue
		}
		sections = append(sections, fmt.Sprintf("## Recent %s data from %s\n%s", r.Type, r.Source, *r.Result))
	}

	text := strings.Join(sections, "\n\n")
	if runes := []rune(text); len(runes) > maxGroundingRunes {
		text = string(runes[:maxGroundingRunes]) + "\n[truncated]"
	}
	return text
}

var languageNames = map[string]string{
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"nl": "Dutch",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	if code == "" {
		return "English"
	}
	return code
}
