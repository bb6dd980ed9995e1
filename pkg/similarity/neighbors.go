package similarity

import (
	"sort"

	"github.com/thebtf/trendwire/pkg/models"
)

const (
	// DefaultSimilarThreshold is the minimum score for a similar-article match.
	DefaultSimilarThreshold = 0.7
	// DefaultMaxResults caps similar-article results.
	DefaultMaxResults = 5
)

// SearchOptions controls nearest-neighbour search.
type SearchOptions struct {
	ExcludeIDs map[string]bool
	// FeedIDs restricts candidates to these feeds when non-empty.
	FeedIDs    map[string]bool
	Threshold  float64
	MaxResults int
}

// Match is a candidate that scored at or above the search threshold.
type Match struct {
	Article *models.ArticleWithEmbedding
	Score   float64
}

// FindSimilarByEmbedding scores every eligible candidate against target and
// returns those scoring at least opts.Threshold, best first, at most
// opts.MaxResults of them. Equal scores keep candidate order.
func FindSimilarByEmbedding(target []float32, candidates []*models.ArticleWithEmbedding, opts SearchOptions) ([]Match, error) {
	matches := make([]Match, 0)
	for _, c := range candidates {
		if c == nil || opts.ExcludeIDs[c.ID] {
			continue
		}
		if len(opts.FeedIDs) > 0 && !opts.FeedIDs[c.FeedID] {
			continue
		}

		score, err := CosineSimilarity(target, c.Embedding)
		if err != nil {
			return nil, err
		}
		if score >= opts.Threshold {
			matches = append(matches, Match{Article: c, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if opts.MaxResults > 0 && len(matches) > opts.MaxResults {
		matches = matches[:opts.MaxResults]
	}
	return matches, nil
}

// FindSimilarArticles finds articles in pool similar to source, never
// returning source itself. Zero Threshold and MaxResults fall back to the
// package defaults.
func FindSimilarArticles(source *models.ArticleWithEmbedding, pool []*models.ArticleWithEmbedding, opts SearchOptions) ([]models.SimilarArticle, error) {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultSimilarThreshold
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}

	exclude := make(map[string]bool, len(opts.ExcludeIDs)+1)
	for id := range opts.ExcludeIDs {
		exclude[id] = true
	}
	exclude[source.ID] = true
	opts.ExcludeIDs = exclude

	matches, err := FindSimilarByEmbedding(source.Embedding, pool, opts)
	if err != nil {
		return nil, err
	}

	results := make([]models.SimilarArticle, 0, len(matches))
	for _, m := range matches {
		results = append(results, models.SimilarArticle{
			ArticleID:       m.Article.ID,
			Title:           m.Article.Title,
			FeedName:        m.Article.FeedName,
			FeedID:          m.Article.FeedID,
			SimilarityScore: m.Score,
			PublishedAt:     m.Article.PublishedAt,
			ImageURL:        m.Article.ImageURL,
		})
	}
	return results, nil
}
