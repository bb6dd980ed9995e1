package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/trendwire/pkg/models"
)

// ErrClusterNotFound is returned when updating a cluster that does not exist.
var ErrClusterNotFound = errors.New("cluster not found")

// ClusterStore provides trending-cluster database operations.
type ClusterStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{db: store.DB, now: time.Now}
}

// CreateCluster inserts a cluster and returns it with its assigned id.
func (s *ClusterStore) CreateCluster(ctx context.Context, cluster *models.Cluster) (*models.Cluster, error) {
	row := fromModelCluster(cluster)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return toModelCluster(row), nil
}

// UpdateCluster applies the non-nil fields of patch.
func (s *ClusterStore) UpdateCluster(ctx context.Context, id string, patch models.ClusterPatch) error {
	updates := make(map[string]interface{})
	if patch.Topic != nil {
		updates["topic"] = *patch.Topic
	}
	if patch.Summary != nil {
		updates["summary"] = *patch.Summary
	}
	if patch.RelevanceScore != nil {
		updates["relevance_score"] = *patch.RelevanceScore
	}
	if patch.ExpiresAt != nil {
		updates["expires_at_epoch"] = timeEpoch(*patch.ExpiresAt)
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&TrendingCluster{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, id)
	}
	return nil
}

// DeleteCluster deletes a cluster by id. Deleting a missing cluster is not an error.
func (s *ClusterStore) DeleteCluster(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&TrendingCluster{}, "id = ?", id).Error
}

// GetClusterByID retrieves a cluster by its ID.
func (s *ClusterStore) GetClusterByID(ctx context.Context, id string) (*models.Cluster, error) {
	var row TrendingCluster
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelCluster(&row), nil
}

// GetClusters lists clusters of a scope, most relevant first.
func (s *ClusterStore) GetClusters(ctx context.Context, filter models.ClusterFilter) ([]*models.Cluster, error) {
	query := s.db.WithContext(ctx).
		Scopes(scopeFilter(filter.Scope)).
		Order("relevance_score DESC, article_count DESC")
	if !filter.IncludeExpired {
		query = query.Where("expires_at_epoch > ?", s.now().UnixMilli())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []TrendingCluster
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*models.Cluster, len(rows))
	for i := range rows {
		out[i] = toModelCluster(&rows[i])
	}
	return out, nil
}

// DeleteExpiredClusters removes clusters whose expiry is at or before now,
// releasing their articles first, and returns how many were deleted.
func (s *ClusterStore) DeleteExpiredClusters(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64

	// Use a transaction so articles never point at a deleted cluster
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&TrendingCluster{}).
			Where("expires_at_epoch <= ?", now.UnixMilli()).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&Article{}).
			Where("cluster_id IN ?", ids).
			Update("cluster_id", nil).Error; err != nil {
			return err
		}

		result := tx.Delete(&TrendingCluster{}, "id IN ?", ids)
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
