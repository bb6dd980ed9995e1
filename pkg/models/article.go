// Package models contains domain models for trendwire.
package models

import "time"

// Article is the plain projection of a stored article, used by the text
// fallback path when no embeddings are available.
type Article struct {
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt,omitempty"`
	FeedID      string     `json:"feed_id"`
	FeedName    string     `json:"feed_name"`
	ImageURL    string     `json:"image_url,omitempty"`
}

// PublishedEpoch returns the publish time in milliseconds, or 0 when unknown.
// Articles without a publish time therefore sort as the oldest.
func (a *Article) PublishedEpoch() int64 {
	if a.PublishedAt == nil {
		return 0
	}
	return a.PublishedAt.UnixMilli()
}

// ArticleWithEmbedding is an article together with its semantic vector.
// All vectors compared within one clustering run share the same length.
type ArticleWithEmbedding struct {
	Article
	Embedding []float32 `json:"embedding"`
}

// SimilarArticle is a read-only projection returned by similar-article queries.
type SimilarArticle struct {
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	ArticleID       string     `json:"article_id"`
	Title           string     `json:"title"`
	FeedName        string     `json:"feed_name"`
	FeedID          string     `json:"feed_id"`
	ImageURL        string     `json:"image_url,omitempty"`
	SimilarityScore float64    `json:"similarity_score"`
}

// PlainArticles strips embeddings off a pool.
func PlainArticles(pool []*ArticleWithEmbedding) []*Article {
	out := make([]*Article, 0, len(pool))
	for _, a := range pool {
		out = append(out, &a.Article)
	}
	return out
}
