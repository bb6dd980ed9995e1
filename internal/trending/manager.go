// Package trending orchestrates cluster generation, retrieval and expiry.
package trending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/trendwire/internal/clustering"
	"github.com/thebtf/trendwire/internal/embedding"
	"github.com/thebtf/trendwire/internal/labeling"
	"github.com/thebtf/trendwire/internal/metrics"
	"github.com/thebtf/trendwire/pkg/models"
	"github.com/thebtf/trendwire/pkg/similarity"
)

var (
	// ErrEmptyScope is returned when an operation is called without a scope.
	ErrEmptyScope = errors.New("scope is required")
	// ErrClusterNotFound is returned by GetCluster for unknown or expired clusters.
	ErrClusterNotFound = errors.New("cluster not found")
)

// Config tunes the manager.
type Config struct {
	Clustering        clustering.Options
	Lookback          time.Duration
	ClusterTTL        time.Duration
	MinVectorArticles int
	SimilarThreshold  float64
	SimilarMaxResults int
	DefaultLimit      int
	// RunTimeout bounds a shared generation run, which outlives the
	// cancellation of any single caller.
	RunTimeout time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Clustering:        clustering.DefaultOptions(),
		Lookback:          48 * time.Hour,
		ClusterTTL:        168 * time.Hour,
		MinVectorArticles: 3,
		SimilarThreshold:  similarity.DefaultSimilarThreshold,
		SimilarMaxResults: similarity.DefaultMaxResults,
		DefaultLimit:      20,
		RunTimeout:        10 * time.Minute,
	}
}

// Manager generates and serves trending clusters for scopes.
type Manager struct {
	storage    Storage
	labeler    *labeling.Labeler
	backfiller *embedding.Backfiller
	metrics    *metrics.Recorder
	now        func() time.Time
	runs       singleflight.Group
	cfg        Config
}

// NewManager creates a manager. labeler may be nil, in which case every
// cluster keeps its fallback label.
func NewManager(storage Storage, labeler *labeling.Labeler, cfg Config) *Manager {
	d := DefaultConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = d.Lookback
	}
	if cfg.ClusterTTL <= 0 {
		cfg.ClusterTTL = d.ClusterTTL
	}
	if cfg.MinVectorArticles <= 0 {
		cfg.MinVectorArticles = d.MinVectorArticles
	}
	if cfg.SimilarThreshold == 0 {
		cfg.SimilarThreshold = d.SimilarThreshold
	}
	if cfg.SimilarMaxResults <= 0 {
		cfg.SimilarMaxResults = d.SimilarMaxResults
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = d.DefaultLimit
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = d.RunTimeout
	}
	if labeler == nil {
		labeler = labeling.NewLabeler(nil, labeling.Options{})
	}
	return &Manager{storage: storage, labeler: labeler, cfg: cfg, now: time.Now}
}

// SetBackfiller enables embedding backfill before each generation run.
func (m *Manager) SetBackfiller(b *embedding.Backfiller) {
	m.backfiller = b
}

// SetMetrics sets the metrics recorder.
func (m *Manager) SetMetrics(r *metrics.Recorder) {
	m.metrics = r
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// GenerateClusters builds a fresh set of trending clusters for scope from
// articles published within lookback (the configured default when zero),
// persists them, retires the scope's previous clusters and returns the new
// ones ranked by relevance. Concurrent calls for the same scope and lookback
// share one run; a caller whose ctx ends stops waiting without aborting it.
func (m *Manager) GenerateClusters(ctx context.Context, scope string, lookback time.Duration) (*models.GenerationResult, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}
	if lookback <= 0 {
		lookback = m.cfg.Lookback
	}

	key := scope + "|" + strconv.FormatInt(int64(lookback), 10)
	ch := m.runs.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RunTimeout)
		defer cancel()
		return m.generate(runCtx, scope, lookback)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			log.Debug().Str("scope", scope).Msg("Joined in-flight cluster generation")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.GenerationResult), nil
	}
}

func (m *Manager) generate(ctx context.Context, scope string, lookback time.Duration) (result *models.GenerationResult, err error) {
	started := time.Now()
	now := m.now()
	result = &models.GenerationResult{Scope: scope, Method: models.MethodNone}

	defer func() {
		result.ProcessingTime = time.Since(started)
		m.metrics.RecordRun(ctx, scope, string(result.Method), len(result.Clusters), result.ProcessingTime, err)
	}()

	if m.backfiller != nil {
		if n, bfErr := m.backfiller.Backfill(ctx, scope, lookback); bfErr != nil {
			log.Warn().Err(bfErr).Str("scope", scope).Msg("Embedding backfill failed, continuing with stored embeddings")
		} else if n > 0 {
			log.Debug().Str("scope", scope).Int("articles", n).Msg("Embedding backfill complete")
		}
	}

	opts := m.cfg.Clustering
	opts.Now = now

	embedded, err := m.storage.GetArticlesWithEmbeddings(ctx, scope, lookback)
	if err != nil {
		return result, fmt.Errorf("load articles with embeddings: %w", err)
	}

	var candidates []*clustering.Candidate
	if len(embedded) >= m.cfg.MinVectorArticles {
		candidates, err = clustering.FormVectorClusters(embedded, opts)
		if err != nil {
			return result, fmt.Errorf("form vector clusters: %w", err)
		}
		result.Method = models.MethodVector
		result.ArticlesConsidered = len(embedded)
		result.Reason = fmt.Sprintf("vector clustering produced %d clusters from %d articles", len(candidates), len(embedded))
	}

	if len(candidates) == 0 {
		log.Warn().
			Str("scope", scope).
			Int("embedded_articles", len(embedded)).
			Msg("Vector clustering unavailable or empty, running fallback chain")

		plain, err := m.storage.GetRecentArticles(ctx, scope, lookback)
		if err != nil {
			return result, fmt.Errorf("load recent articles: %w", err)
		}
		fb := clustering.RunFallbackChain(plain, opts)
		candidates = fb.Clusters
		result.Method = fb.Method
		result.Reason = fb.Reason
		result.ArticlesConsidered = len(plain)
	}

	if len(candidates) == 0 {
		log.Info().Str("scope", scope).Str("reason", result.Reason).Msg("No trending clusters generated")
		return result, nil
	}

	previous, err := m.storage.GetClusters(ctx, models.ClusterFilter{Scope: scope, IncludeExpired: true})
	if err != nil {
		return result, fmt.Errorf("load previous clusters: %w", err)
	}

	clusters := make([]*models.Cluster, 0, len(candidates))
	for _, c := range candidates {
		cluster, err := m.persistCandidate(ctx, scope, c, now)
		if err != nil {
			return result, err
		}
		clusters = append(clusters, cluster)
		result.ArticlesClustered += cluster.ArticleCount
	}

	for i, cluster := range clusters {
		m.applyLabel(ctx, scope, cluster, candidates[i])
	}

	sortByRelevance(clusters)
	result.Clusters = clusters

	superseded, err := m.supersede(ctx, previous)
	result.Superseded = superseded
	if err != nil {
		return result, err
	}

	log.Info().
		Str("scope", scope).
		Str("method", string(result.Method)).
		Int("clusters", len(clusters)).
		Int("articles", result.ArticlesClustered).
		Int("superseded", superseded).
		Dur("took", time.Since(started)).
		Msg("Generated trending clusters")
	return result, nil
}

// persistCandidate stores a candidate under its fallback label and assigns
// its articles. The label is refined afterwards so a slow labeler never
// delays persistence.
func (m *Manager) persistCandidate(ctx context.Context, scope string, c *clustering.Candidate, now time.Time) (*models.Cluster, error) {
	label := labeling.FallbackLabel(c.Members)
	cluster := &models.Cluster{
		Scope:          scope,
		Topic:          label.Topic,
		Summary:        label.Summary,
		Method:         c.Method,
		ArticleIDs:     c.ArticleIDs,
		ArticleCount:   len(c.ArticleIDs),
		Sources:        c.Sources,
		AvgSimilarity:  c.AvgSimilarity,
		RelevanceScore: c.RelevanceScore(),
		LatestAt:       c.LatestAt,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.ClusterTTL),
	}

	created, err := m.storage.CreateCluster(ctx, cluster)
	if err != nil {
		return nil, fmt.Errorf("create cluster: %w", err)
	}
	if err := m.storage.AssignArticlesToCluster(ctx, created.ArticleIDs, created.ID); err != nil {
		return nil, fmt.Errorf("assign articles to cluster %s: %w", created.ID, err)
	}
	return created, nil
}

func (m *Manager) applyLabel(ctx context.Context, scope string, cluster *models.Cluster, c *clustering.Candidate) {
	if !m.labeler.Enabled() {
		m.metrics.RecordLabelFallback(ctx, scope)
		return
	}

	label := m.labeler.Label(ctx, c.Members)
	if label.Fallback {
		m.metrics.RecordLabelFallback(ctx, scope)
		return
	}

	patch := models.ClusterPatch{Topic: &label.Topic, Summary: &label.Summary}
	if err := m.storage.UpdateCluster(ctx, cluster.ID, patch); err != nil {
		log.Error().Err(err).Str("cluster", cluster.ID).Msg("Failed to store cluster label, keeping fallback")
		m.metrics.RecordLabelFallback(ctx, scope)
		return
	}
	cluster.Topic = label.Topic
	cluster.Summary = label.Summary
}

// supersede removes clusters left over from earlier runs of the same scope.
func (m *Manager) supersede(ctx context.Context, previous []*models.Cluster) (int, error) {
	removed := 0
	for _, old := range previous {
		if err := m.storage.RemoveArticlesFromCluster(ctx, old.ID); err != nil {
			return removed, fmt.Errorf("release articles of cluster %s: %w", old.ID, err)
		}
		if err := m.storage.DeleteCluster(ctx, old.ID); err != nil {
			return removed, fmt.Errorf("delete superseded cluster %s: %w", old.ID, err)
		}
		removed++
	}
	return removed, nil
}

// GetUserClusters returns the live clusters of scope, most relevant first.
// limit <= 0 uses the configured default.
func (m *Manager) GetUserClusters(ctx context.Context, scope string, limit int) ([]*models.Cluster, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}

	clusters, err := m.storage.GetClusters(ctx, models.ClusterFilter{Scope: scope, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get clusters: %w", err)
	}

	now := m.now()
	live := clusters[:0]
	for _, c := range clusters {
		if !c.IsExpired(now) {
			live = append(live, c)
		}
	}
	sortByRelevance(live)
	if len(live) > limit {
		live = live[:limit]
	}
	return live, nil
}

// GetCluster returns one live cluster.
func (m *Manager) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	cluster, err := m.storage.GetClusterByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cluster %s: %w", id, err)
	}
	if cluster == nil || cluster.IsExpired(m.now()) {
		return nil, ErrClusterNotFound
	}
	return cluster, nil
}

// ExpireOldClusters deletes every cluster whose expiry has passed and
// returns how many were removed.
func (m *Manager) ExpireOldClusters(ctx context.Context) (int64, error) {
	count, err := m.storage.DeleteExpiredClusters(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired clusters: %w", err)
	}
	m.metrics.RecordExpired(ctx, count)
	if count > 0 {
		log.Info().Int64("count", count).Msg("Expired trending clusters")
	}
	return count, nil
}

// FindSimilarArticles ranks the scope's embedded articles by similarity to
// articleID. An unknown article, or one without an embedding, yields an
// empty list.
func (m *Manager) FindSimilarArticles(ctx context.Context, articleID, scope string) ([]models.SimilarArticle, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}

	pool, err := m.storage.GetArticlesWithEmbeddings(ctx, scope, m.cfg.Lookback)
	if err != nil {
		return nil, fmt.Errorf("load articles with embeddings: %w", err)
	}

	var source *models.ArticleWithEmbedding
	for _, a := range pool {
		if a.ID == articleID {
			source = a
			break
		}
	}
	if source == nil || len(source.Embedding) == 0 {
		return []models.SimilarArticle{}, nil
	}

	return similarity.FindSimilarArticles(source, pool, similarity.SearchOptions{
		Threshold:  m.cfg.SimilarThreshold,
		MaxResults: m.cfg.SimilarMaxResults,
	})
}

// sortByRelevance orders clusters by relevance, larger clusters first on ties.
func sortByRelevance(clusters []*models.Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].RelevanceScore != clusters[j].RelevanceScore {
			return clusters[i].RelevanceScore > clusters[j].RelevanceScore
		}
		return clusters[i].ArticleCount > clusters[j].ArticleCount
	})
}
