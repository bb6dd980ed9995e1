package gorm

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thebtf/trendwire/pkg/models"
)

// Article is an ingested feed item. Embedding is NULL until generated and
// ClusterID points at the live cluster the article belongs to, if any.
type Article struct {
	ID               string                  `gorm:"primaryKey;type:text"`
	Scope            string                  `gorm:"type:text;not null;index:idx_articles_scope_published,priority:1"`
	FeedID           string                  `gorm:"type:text;index"`
	FeedName         string                  `gorm:"type:text"`
	Title            string                  `gorm:"type:text;not null"`
	Excerpt          sql.NullString          `gorm:"type:text"`
	ImageURL         sql.NullString          `gorm:"type:text"`
	PublishedAtEpoch sql.NullInt64           `gorm:"index:idx_articles_scope_published,priority:2,sort:desc"`
	Embedding        models.JSONFloat32Array `gorm:"type:text"`
	ClusterID        sql.NullString          `gorm:"type:text;index"`
	CreatedAtEpoch   int64                   `gorm:"not null"`
}

func (Article) TableName() string { return "articles" }

// BeforeCreate hook to ensure timestamps are set.
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.CreatedAtEpoch == 0 {
		a.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// TrendingCluster is a generated cluster of articles.
type TrendingCluster struct {
	ID             string                 `gorm:"primaryKey;type:text"`
	Scope          string                 `gorm:"type:text;not null;index:idx_clusters_scope_relevance,priority:1"`
	Topic          string                 `gorm:"type:text;not null"`
	Summary        string                 `gorm:"type:text"`
	ArticleIDs     models.JSONStringArray `gorm:"column:article_ids;type:text"`
	ArticleCount   int                    `gorm:"not null;default:0"`
	Sources        models.JSONStringArray `gorm:"type:text"`
	AvgSimilarity  float64
	RelevanceScore float64 `gorm:"index:idx_clusters_scope_relevance,priority:2,sort:desc"`
	LatestEpoch    int64
	Method         string `gorm:"type:text;check:method IN ('vector', 'keyword', 'time_window', 'individual');not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
	ExpiresAtEpoch int64  `gorm:"index;not null"`
}

func (TrendingCluster) TableName() string { return "trending_clusters" }

// BeforeCreate hook to assign an id and creation time.
func (c *TrendingCluster) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

func toModelArticle(a *Article) models.Article {
	return models.Article{
		ID:          a.ID,
		Title:       a.Title,
		Excerpt:     a.Excerpt.String,
		FeedID:      a.FeedID,
		FeedName:    a.FeedName,
		ImageURL:    a.ImageURL.String,
		PublishedAt: epochPtr(a.PublishedAtEpoch),
	}
}

func toModelCluster(c *TrendingCluster) *models.Cluster {
	return &models.Cluster{
		ID:             c.ID,
		Scope:          c.Scope,
		Topic:          c.Topic,
		Summary:        c.Summary,
		Method:         models.ClusterMethod(c.Method),
		ArticleIDs:     []string(c.ArticleIDs),
		ArticleCount:   c.ArticleCount,
		Sources:        []string(c.Sources),
		AvgSimilarity:  c.AvgSimilarity,
		RelevanceScore: c.RelevanceScore,
		LatestAt:       epochTime(c.LatestEpoch),
		CreatedAt:      epochTime(c.CreatedAtEpoch),
		ExpiresAt:      epochTime(c.ExpiresAtEpoch),
	}
}

func fromModelCluster(c *models.Cluster) *TrendingCluster {
	return &TrendingCluster{
		ID:             c.ID,
		Scope:          c.Scope,
		Topic:          c.Topic,
		Summary:        c.Summary,
		Method:         string(c.Method),
		ArticleIDs:     models.JSONStringArray(c.ArticleIDs),
		ArticleCount:   len(c.ArticleIDs),
		Sources:        models.JSONStringArray(c.Sources),
		AvgSimilarity:  c.AvgSimilarity,
		RelevanceScore: c.RelevanceScore,
		LatestEpoch:    timeEpoch(c.LatestAt),
		CreatedAtEpoch: timeEpoch(c.CreatedAt),
		ExpiresAtEpoch: timeEpoch(c.ExpiresAt),
	}
}

// timeEpoch converts t to epoch milliseconds; the zero time maps to 0.
func timeEpoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// epochTime converts epoch milliseconds to UTC time; 0 maps to the zero time.
func epochTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func epochPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullEpoch(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func sqlNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
