package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/trendwire/internal/textclean"
	"github.com/thebtf/trendwire/pkg/models"
)

// DefaultBackfillLimit caps the articles embedded per run.
const DefaultBackfillLimit = 200

// Store is the persistence the backfiller needs.
type Store interface {
	GetArticlesMissingEmbeddings(ctx context.Context, scope string, lookback time.Duration, limit int) ([]*models.Article, error)
	SaveArticleEmbeddings(ctx context.Context, embeddings map[string][]float32) error
}

// Backfiller embeds recent articles that were stored without a vector.
type Backfiller struct {
	embedder Embedder
	store    Store
	limit    int
}

// NewBackfiller creates a backfiller. limit <= 0 uses DefaultBackfillLimit.
func NewBackfiller(embedder Embedder, store Store, limit int) *Backfiller {
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	return &Backfiller{embedder: embedder, store: store, limit: limit}
}

// Backfill embeds up to the configured limit of articles in scope published
// within lookback and returns how many were saved.
func (b *Backfiller) Backfill(ctx context.Context, scope string, lookback time.Duration) (int, error) {
	articles, err := b.store.GetArticlesMissingEmbeddings(ctx, scope, lookback, b.limit)
	if err != nil {
		return 0, fmt.Errorf("load articles missing embeddings: %w", err)
	}

	texts := make([]string, 0, len(articles))
	ids := make([]string, 0, len(articles))
	skipped := 0
	for _, a := range articles {
		if textclean.IsBlank(a.Title) && textclean.IsBlank(a.Excerpt) {
			skipped++
			continue
		}
		text := ArticleText(a)
		texts = append(texts, text)
		ids = append(ids, a.ID)
	}
	if skipped > 0 {
		log.Debug().Str("scope", scope).Int("skipped", skipped).Msg("Skipped articles with no text to embed")
	}
	if len(texts) == 0 {
		return 0, nil
	}

	started := time.Now()
	vectors, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %d articles: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(texts))
	}

	byID := make(map[string][]float32, len(ids))
	for i, id := range ids {
		if len(vectors[i]) == 0 {
			continue
		}
		byID[id] = vectors[i]
	}
	if err := b.store.SaveArticleEmbeddings(ctx, byID); err != nil {
		return 0, fmt.Errorf("save embeddings: %w", err)
	}

	log.Info().
		Str("scope", scope).
		Str("model", b.embedder.ModelName()).
		Int("articles", len(byID)).
		Dur("took", time.Since(started)).
		Msg("Backfilled article embeddings")
	return len(byID), nil
}
