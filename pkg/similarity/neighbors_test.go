package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/trendwire/pkg/models"
)

func article(id, feedID string, vec ...float32) *models.ArticleWithEmbedding {
	return &models.ArticleWithEmbedding{
		Article: models.Article{
			ID:       id,
			Title:    "Title " + id,
			FeedID:   feedID,
			FeedName: "Feed " + feedID,
		},
		Embedding: vec,
	}
}

func TestFindSimilarByEmbedding_SortsAndCaps(t *testing.T) {
	pool := []*models.ArticleWithEmbedding{
		article("far", "f1", 0, 1),
		article("close", "f1", 1, 0.1),
		article("exact", "f2", 1, 0),
		article("mid", "f3", 1, 0.5),
	}

	matches, err := FindSimilarByEmbedding([]float32{1, 0}, pool, SearchOptions{Threshold: 0.5, MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Article.ID)
	assert.Equal(t, "close", matches[1].Article.ID)
}

func TestFindSimilarByEmbedding_StableTieBreak(t *testing.T) {
	pool := []*models.ArticleWithEmbedding{
		article("first", "f1", 2, 0),
		article("second", "f2", 3, 0),
		article("third", "f3", 1, 0),
	}

	matches, err := FindSimilarByEmbedding([]float32{1, 0}, pool, SearchOptions{Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{matches[0].Article.ID, matches[1].Article.ID, matches[2].Article.ID})
}

func TestFindSimilarByEmbedding_Filters(t *testing.T) {
	pool := []*models.ArticleWithEmbedding{
		article("a", "f1", 1, 0),
		article("b", "f2", 1, 0),
		article("c", "f3", 1, 0),
	}

	matches, err := FindSimilarByEmbedding([]float32{1, 0}, pool, SearchOptions{
		Threshold:  0.5,
		ExcludeIDs: map[string]bool{"a": true},
		FeedIDs:    map[string]bool{"f1": true, "f3": true},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c", matches[0].Article.ID)
}

func TestFindSimilarByEmbedding_DimensionMismatch(t *testing.T) {
	pool := []*models.ArticleWithEmbedding{article("a", "f1", 1, 0, 0)}
	_, err := FindSimilarByEmbedding([]float32{1, 0}, pool, SearchOptions{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFindSimilarArticles_ExcludesSourceAndUsesDefaults(t *testing.T) {
	source := article("src", "f1", 1, 0)
	pool := []*models.ArticleWithEmbedding{
		source,
		article("near", "f2", 1, 0.2),
		article("weak", "f3", 1, 1.5),
	}
	for i := 0; i < 8; i++ {
		pool = append(pool, article(string(rune('a'+i)), "f4", 1, 0.1))
	}

	results, err := FindSimilarArticles(source, pool, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, DefaultMaxResults)
	for _, r := range results {
		assert.NotEqual(t, "src", r.ArticleID)
		assert.NotEqual(t, "weak", r.ArticleID)
		assert.GreaterOrEqual(t, r.SimilarityScore, DefaultSimilarThreshold)
		assert.LessOrEqual(t, r.SimilarityScore, 1.0)
	}
	assert.Equal(t, "Feed f4", results[0].FeedName)
}
