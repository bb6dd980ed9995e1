package similarity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/thebtf/trendwire/internal/textclean"
	"github.com/thebtf/trendwire/pkg/models"
)

// MaxKeywordsPerArticle caps the keyword set extracted from one article.
const MaxKeywordsPerArticle = 10

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true,
	"said": true, "says": true, "after": true, "before": true, "over": true,
	"more": true, "than": true, "their": true, "there": true, "they": true,
	"them": true, "also": true, "just": true, "like": true,
	"your": true, "some": true, "only": true, "other": true, "new": true,
	"news": true, "year": true, "years": true, "week": true, "today": true,
}

// ExtractKeywords tokenizes text into lowercase letter/digit runs longer than
// three characters in any script, dropping stop words. At most MaxKeywordsPerArticle distinct
// keywords are returned, in order of first appearance.
func ExtractKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	keywords := make([]string, 0, MaxKeywordsPerArticle)
	for _, word := range words {
		if utf8.RuneCountInString(word) <= 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == MaxKeywordsPerArticle {
			break
		}
	}
	return keywords
}

// ArticleKeywords returns the keyword set of an article's title and excerpt
// after markup is stripped.
func ArticleKeywords(a *models.Article) map[string]bool {
	set := make(map[string]bool)
	for _, k := range ExtractKeywords(textclean.Clean(a.Title) + " " + textclean.Clean(a.Excerpt)) {
		set[k] = true
	}
	return set
}

// JaccardSimilarity calculates the Jaccard similarity between two term sets.
// Returns a value between 0 (no overlap) and 1 (identical).
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 && len(set2) == 0 {
		return 1.0
	}
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}
