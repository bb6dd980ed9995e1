package trending

import (
	"context"
	"time"

	"github.com/thebtf/trendwire/pkg/models"
)

// Storage is the persistence the manager reads articles from and writes
// clusters to. GetClusterByID returns nil, nil for an unknown id.
type Storage interface {
	GetArticlesWithEmbeddings(ctx context.Context, scope string, lookback time.Duration) ([]*models.ArticleWithEmbedding, error)
	GetRecentArticles(ctx context.Context, scope string, lookback time.Duration) ([]*models.Article, error)

	CreateCluster(ctx context.Context, cluster *models.Cluster) (*models.Cluster, error)
	UpdateCluster(ctx context.Context, id string, patch models.ClusterPatch) error
	DeleteCluster(ctx context.Context, id string) error
	GetClusterByID(ctx context.Context, id string) (*models.Cluster, error)
	GetClusters(ctx context.Context, filter models.ClusterFilter) ([]*models.Cluster, error)

	AssignArticlesToCluster(ctx context.Context, articleIDs []string, clusterID string) error
	RemoveArticlesFromCluster(ctx context.Context, clusterID string) error

	DeleteExpiredClusters(ctx context.Context, now time.Time) (int64, error)
}
