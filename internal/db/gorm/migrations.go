package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: articles
		{
			ID: "001_articles",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Article{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("articles")
			},
		},

		// Migration 002: trending clusters
		{
			ID: "002_trending_clusters",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&TrendingCluster{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("trending_clusters")
			},
		},

		// Migration 003: expiry sweep index over scope
		{
			ID: "003_clusters_scope_expiry_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_clusters_scope_expires
					ON trending_clusters (scope, expires_at_epoch)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_clusters_scope_expires").Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
