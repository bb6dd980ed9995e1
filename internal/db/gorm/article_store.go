package gorm

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/trendwire/pkg/models"
)

// ArticleStore provides article-related database operations.
type ArticleStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewArticleStore creates a new article store.
func NewArticleStore(store *Store) *ArticleStore {
	return &ArticleStore{db: store.DB, now: time.Now}
}

// UpsertArticles inserts articles into scope, refreshing the content columns
// of ones that already exist. Embeddings that are present are saved too;
// absent ones leave any stored embedding untouched.
func (s *ArticleStore) UpsertArticles(ctx context.Context, scope string, articles []*models.ArticleWithEmbedding) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	rows := make([]Article, 0, len(articles))
	embeddings := make(map[string][]float32)
	for _, a := range articles {
		rows = append(rows, Article{
			ID:               a.ID,
			Scope:            scope,
			FeedID:           a.FeedID,
			FeedName:         a.FeedName,
			Title:            a.Title,
			Excerpt:          sqlNullString(a.Excerpt),
			ImageURL:         sqlNullString(a.ImageURL),
			PublishedAtEpoch: nullEpoch(a.PublishedAt),
		})
		if len(a.Embedding) > 0 {
			embeddings[a.ID] = a.Embedding
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"scope", "feed_id", "feed_name", "title", "excerpt", "image_url", "published_at_epoch",
			}),
		}).Create(&rows).Error; err != nil {
			return err
		}
		return saveEmbeddings(tx, embeddings)
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// GetArticlesWithEmbeddings returns embedded articles in scope seen within
// lookback. Articles without a publish time fall back to their ingestion time.
func (s *ArticleStore) GetArticlesWithEmbeddings(ctx context.Context, scope string, lookback time.Duration) ([]*models.ArticleWithEmbedding, error) {
	var rows []Article
	err := s.db.WithContext(ctx).
		Scopes(scopeFilter(scope), recentFilter(s.cutoff(lookback)), publishedOrdering()).
		Where("embedding IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*models.ArticleWithEmbedding, 0, len(rows))
	for i := range rows {
		out = append(out, &models.ArticleWithEmbedding{
			Article:   toModelArticle(&rows[i]),
			Embedding: []float32(rows[i].Embedding),
		})
	}
	return out, nil
}

// GetRecentArticles returns all articles in scope seen within lookback.
func (s *ArticleStore) GetRecentArticles(ctx context.Context, scope string, lookback time.Duration) ([]*models.Article, error) {
	var rows []Article
	err := s.db.WithContext(ctx).
		Omit("embedding").
		Scopes(scopeFilter(scope), recentFilter(s.cutoff(lookback)), publishedOrdering()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelArticles(rows), nil
}

// GetArticlesMissingEmbeddings returns up to limit recent articles in scope
// that have no embedding yet, newest first.
func (s *ArticleStore) GetArticlesMissingEmbeddings(ctx context.Context, scope string, lookback time.Duration, limit int) ([]*models.Article, error) {
	var rows []Article
	query := s.db.WithContext(ctx).
		Scopes(scopeFilter(scope), recentFilter(s.cutoff(lookback)), publishedOrdering()).
		Where("embedding IS NULL")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toModelArticles(rows), nil
}

// SaveArticleEmbeddings stores embeddings keyed by article id.
func (s *ArticleStore) SaveArticleEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveEmbeddings(tx, embeddings)
	})
}

// AssignArticlesToCluster points the given articles at clusterID.
func (s *ArticleStore) AssignArticlesToCluster(ctx context.Context, articleIDs []string, clusterID string) error {
	if len(articleIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&Article{}).
		Where("id IN ?", articleIDs).
		Update("cluster_id", clusterID).Error
}

// RemoveArticlesFromCluster clears the cluster reference of every article in clusterID.
func (s *ArticleStore) RemoveArticlesFromCluster(ctx context.Context, clusterID string) error {
	return s.db.WithContext(ctx).
		Model(&Article{}).
		Where("cluster_id = ?", clusterID).
		Update("cluster_id", nil).Error
}

// GetArticleByID retrieves an article by its ID.
func (s *ArticleStore) GetArticleByID(ctx context.Context, id string) (*models.ArticleWithEmbedding, error) {
	var row Article
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.ArticleWithEmbedding{Article: toModelArticle(&row), Embedding: []float32(row.Embedding)}, nil
}

func (s *ArticleStore) cutoff(lookback time.Duration) int64 {
	return s.now().Add(-lookback).UnixMilli()
}

func saveEmbeddings(tx *gorm.DB, embeddings map[string][]float32) error {
	for id, vec := range embeddings {
		err := tx.Model(&Article{}).
			Where("id = ?", id).
			Update("embedding", models.JSONFloat32Array(vec)).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func toModelArticles(rows []Article) []*models.Article {
	out := make([]*models.Article, len(rows))
	for i := range rows {
		a := toModelArticle(&rows[i])
		out[i] = &a
	}
	return out
}

// ====================
// GORM Scopes (Reusable Query Filters)
// ====================

// scopeFilter restricts rows to one scope.
func scopeFilter(scope string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("scope = ?", scope)
	}
}

// recentFilter keeps articles published, or ingested when undated, at or after cutoff.
func recentFilter(cutoff int64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("COALESCE(published_at_epoch, created_at_epoch) >= ?", cutoff)
	}
}

// publishedOrdering orders newest first, undated articles last.
func publishedOrdering() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("COALESCE(published_at_epoch, 0) DESC, id ASC")
	}
}
