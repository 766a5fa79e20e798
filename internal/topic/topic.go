// Package topic picks an article topic from recent scraping activity.
package topic

import (
	"time"

	"github.com/TobiSchelling/contentforge/internal/database"
)

// Auto is the request value that asks for automatic topic selection.
const Auto = "auto"

const (
	PriceComparisonTopic = "Streaming service price comparison: what every major platform costs right now"
	WeeklyRoundupTopic   = "Streaming news roundup: the biggest changes this week"
)

// Evergreen topics rotate by ISO week when no fresh scrape data exists.
var Evergreen = []string{
	"How to cut your streaming costs without losing your favorite shows",
	"Ad-supported streaming tiers explained: are they worth it?",
	"Annual vs monthly streaming subscriptions: which saves more?",
	"Sharing streaming accounts: what each service allows",
	"The best streaming bundles and how much they really save",
	"Free trials and discounts: getting streaming services for less",
	"Choosing a streaming service for sports fans",
	"Streaming for families: parental controls and kids profiles compared",
}

// Select returns the topic for the next article. Fresh pricing data wins over
// news, and news wins over the evergreen rotation.
func Select(recent []database.ScrapeResult, now time.Time) string {
	if hasResult(recent, database.ScrapePricing) {
		return PriceComparisonTopic
	}
	if hasResult(recent, database.ScrapeNews) {
		return WeeklyRoundupTopic
	}
	_, week := now.ISOWeek()
	return Evergreen[week%len(Evergreen)]
}

// IsAuto reports whether a requested topic should be chosen automatically.
func IsAuto(topic string) bool {
	return topic == "" || topic == Auto
}

func hasResult(results []database.ScrapeResult, t database.ScrapeType) bool {
	for _, r := range results {
		if r.Type == t && r.HasResult() {
			return true
		}
	}
	return false
}
