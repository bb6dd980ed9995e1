// Package scoring computes article engagement and cluster relevance.
package scoring

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/thebtf/trendwire/pkg/models"
)

const (
	maxRecencyScore    = 0.5
	recencyWindowHours = 168.0
	sourceBonus        = 0.3
	titleBonus         = 0.2
	minTitleLength     = 50
	maxTitleLength     = 120
)

// HighAuthoritySources are matched case-insensitively as substrings of the feed name.
var HighAuthoritySources = []string{
	"reuters",
	"associated press",
	"ap news",
	"bbc",
	"new york times",
	"washington post",
	"the guardian",
	"bloomberg",
	"wall street journal",
	"financial times",
	"npr",
	"the economist",
	"al jazeera",
	"cnn",
	"techcrunch",
	"ars technica",
	"the verge",
	"wired",
}

// EngagementScore estimates article importance in [0, 1] from recency,
// source reputation and title shape.
func EngagementScore(a *models.Article, now time.Time) float64 {
	score := recencyScore(a.PublishedAt, now)
	if IsHighAuthoritySource(a.FeedName) {
		score += sourceBonus
	}
	if n := utf8.RuneCountInString(a.Title); n > minTitleLength && n < maxTitleLength {
		score += titleBonus
	}
	return score
}

// recencyScore decays linearly from 0.5 at publish time to 0 after a week.
func recencyScore(published *time.Time, now time.Time) float64 {
	if published == nil || published.IsZero() {
		return 0
	}
	hours := now.Sub(*published).Hours()
	if hours < 0 {
		hours = 0
	}
	if hours >= recencyWindowHours {
		return 0
	}
	return maxRecencyScore * (1 - hours/recencyWindowHours)
}

// IsHighAuthoritySource reports whether feedName matches the allow-list.
func IsHighAuthoritySource(feedName string) bool {
	name := strings.ToLower(feedName)
	for _, s := range HighAuthoritySources {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// AverageEngagement returns the mean engagement score of articles, 0 for none.
func AverageEngagement(articles []*models.Article, now time.Time) float64 {
	if len(articles) == 0 {
		return 0
	}
	var total float64
	for _, a := range articles {
		total += EngagementScore(a, now)
	}
	return total / float64(len(articles))
}

// RelevanceScore ranks clusters within one run. It is monotonic in all inputs.
func RelevanceScore(articleCount, sourceCount int, avgEngagement float64) float64 {
	return float64(articleCount) * float64(sourceCount) * (1 + avgEngagement)
}

// DistinctSources returns the distinct feed names of articles in first-seen order.
func DistinctSources(articles []*models.Article) []string {
	seen := make(map[string]bool)
	sources := make([]string, 0)
	for _, a := range articles {
		if seen[a.FeedName] {
			continue
		}
		seen[a.FeedName] = true
		sources = append(sources, a.FeedName)
	}
	return sources
}
