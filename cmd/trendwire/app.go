package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/trendwire/internal/config"
	gormdb "github.com/thebtf/trendwire/internal/db/gorm"
	"github.com/thebtf/trendwire/internal/embedding"
	"github.com/thebtf/trendwire/internal/labeling"
	"github.com/thebtf/trendwire/internal/metrics"
	"github.com/thebtf/trendwire/internal/scheduler"
	"github.com/thebtf/trendwire/internal/scopes"
	"github.com/thebtf/trendwire/internal/trending"
	"github.com/thebtf/trendwire/pkg/models"
)

func storeConfig(cfg *config.Config, debug bool) gormdb.Config {
	level := logger.Silent
	if debug {
		level = logger.Warn
	}
	return gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: level,
	}
}

func managerConfig(cfg *config.Config) trending.Config {
	mc := trending.DefaultConfig()
	mc.Clustering.Threshold = cfg.SimilarityThreshold
	mc.Clustering.MaxIndividualClusters = cfg.MaxIndividualClusters
	mc.Lookback = cfg.Lookback()
	mc.ClusterTTL = cfg.ClusterTTL()
	mc.MinVectorArticles = cfg.MinVectorArticles
	mc.SimilarThreshold = cfg.SimilarThreshold
	mc.SimilarMaxResults = cfg.SimilarMaxResults
	return mc
}

func schedulerOptions(cfg *config.Config) scheduler.Options {
	return scheduler.Options{
		GenerateSchedule: cfg.GenerateSchedule,
		ExpireSchedule:   cfg.ExpireSchedule,
		Lookback:         cfg.Lookback(),
	}
}

// buildLabeler returns a labeler backed by the configured chat provider, or a
// fallback-only labeler when no API key is set.
func buildLabeler(cfg *config.Config) *labeling.Labeler {
	opts := labeling.Options{
		MaxAttempts: cfg.LabelMaxAttempts,
		BaseDelay:   cfg.LabelBaseDelay(),
		CallTimeout: cfg.LabelTimeout(),
	}
	if cfg.LLMAPIKey == "" {
		log.Info().Msg("No label provider key configured, clusters keep fallback labels")
		return labeling.NewLabeler(nil, opts)
	}
	provider, err := labeling.NewChatProvider(labeling.ChatConfig{
		Provider:      cfg.LLMProvider,
		BaseURL:       cfg.LLMBaseURL,
		APIKey:        cfg.LLMAPIKey,
		Model:         cfg.LLMModel,
		ExcerptTokens: cfg.ExcerptTokens,
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.LLMProvider).Msg("Label provider unavailable, using fallback labels")
		return labeling.NewLabeler(nil, opts)
	}
	return labeling.NewLabeler(provider, opts)
}

func buildManager(cfg *config.Config, repo *gormdb.Repository) *trending.Manager {
	m := trending.NewManager(repo, buildLabeler(cfg), managerConfig(cfg))
	m.SetMetrics(metrics.Global())

	if cfg.CohereAPIKey == "" {
		return m
	}
	embedder, err := embedding.NewCohereEmbedder(embedding.CohereConfig{
		APIKey: cfg.CohereAPIKey,
		Model:  cfg.CohereModel,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Embedding backfill disabled")
		return m
	}
	m.SetBackfiller(embedding.NewBackfiller(embedder, repo, cfg.BackfillLimit))
	return m
}

// loadScopes reads the scopes file, falling back to the configured default
// scopes when it lists none. A non-empty only restricts the result to that scope.
func loadScopes(cfg *config.Config, only string) (*scopes.Registry, error) {
	if only != "" {
		return scopes.FromNames([]string{only}), nil
	}
	reg, err := scopes.Load(cfg.ScopesPath)
	if err != nil {
		return nil, err
	}
	if reg.Len() == 0 {
		return scopes.FromNames(cfg.DefaultScopes), nil
	}
	return reg, nil
}

// readArticles decodes a JSON array of articles.
func readArticles(path string) ([]*models.ArticleWithEmbedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var articles []*models.ArticleWithEmbedding
	if err := json.Unmarshal(data, &articles); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, a := range articles {
		if a == nil || strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("article %d: id is required", i)
		}
	}
	return articles, nil
}

func importArticles(ctx context.Context, repo *gormdb.Repository, scope, path string) (int, error) {
	articles, err := readArticles(path)
	if err != nil {
		return 0, err
	}
	return repo.UpsertArticles(ctx, scope, articles)
}
