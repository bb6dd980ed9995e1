package trending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/trendwire/internal/embedding"
	"github.com/thebtf/trendwire/internal/labeling"
	"github.com/thebtf/trendwire/pkg/models"
	"github.com/thebtf/trendwire/pkg/similarity"
)

// memStorage is an in-memory Storage.
type memStorage struct {
	mu          sync.Mutex
	embedded    []*models.ArticleWithEmbedding
	plain       []*models.Article
	clusters    map[string]*models.Cluster
	assignments map[string]string
	nextID      int

	embeddedErr error
	createErr   error
	embedCalls  int32
	gate        chan struct{}
	entered     chan struct{}
}

func newMemStorage() *memStorage {
	return &memStorage{
		clusters:    make(map[string]*models.Cluster),
		assignments: make(map[string]string),
	}
}

func (s *memStorage) GetArticlesWithEmbeddings(_ context.Context, _ string, _ time.Duration) ([]*models.ArticleWithEmbedding, error) {
	atomic.AddInt32(&s.embedCalls, 1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ArticleWithEmbedding, 0, len(s.embedded))
	for _, a := range s.embedded {
		if len(a.Embedding) > 0 {
			out = append(out, a)
		}
	}
	return out, s.embeddedErr
}

func (s *memStorage) GetRecentArticles(_ context.Context, _ string, _ time.Duration) ([]*models.Article, error) {
	return s.plain, nil
}

func (s *memStorage) GetArticlesMissingEmbeddings(_ context.Context, _ string, _ time.Duration, _ int) ([]*models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Article
	for _, a := range s.embedded {
		if len(a.Embedding) == 0 {
			out = append(out, &a.Article)
		}
	}
	return out, nil
}

func (s *memStorage) SaveArticleEmbeddings(_ context.Context, embeddings map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.embedded {
		if vec, ok := embeddings[a.ID]; ok {
			a.Embedding = vec
		}
	}
	return nil
}

func (s *memStorage) CreateCluster(_ context.Context, cluster *models.Cluster) (*models.Cluster, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := *cluster
	c.ID = fmt.Sprintf("cluster-%d", s.nextID)
	s.clusters[c.ID] = &c
	out := c
	return &out, nil
}

func (s *memStorage) UpdateCluster(_ context.Context, id string, patch models.ClusterPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok {
		return errors.New("no such cluster")
	}
	if patch.Topic != nil {
		c.Topic = *patch.Topic
	}
	if patch.Summary != nil {
		c.Summary = *patch.Summary
	}
	if patch.RelevanceScore != nil {
		c.RelevanceScore = *patch.RelevanceScore
	}
	if patch.ExpiresAt != nil {
		c.ExpiresAt = *patch.ExpiresAt
	}
	return nil
}

func (s *memStorage) DeleteCluster(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clusters, id)
	return nil
}

func (s *memStorage) GetClusterByID(_ context.Context, id string) (*models.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (s *memStorage) GetClusters(_ context.Context, filter models.ClusterFilter) ([]*models.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Cluster
	for _, c := range s.clusters {
		if c.Scope != filter.Scope {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStorage) AssignArticlesToCluster(_ context.Context, articleIDs []string, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range articleIDs {
		s.assignments[id] = clusterID
	}
	return nil
}

func (s *memStorage) RemoveArticlesFromCluster(_ context.Context, clusterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for articleID, cid := range s.assignments {
		if cid == clusterID {
			delete(s.assignments, articleID)
		}
	}
	return nil
}

func (s *memStorage) DeleteExpiredClusters(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.clusters {
		if c.IsExpired(now) {
			delete(s.clusters, id)
			n++
		}
	}
	return n, nil
}

type stubProvider struct {
	err error
}

func (p *stubProvider) GenerateLabel(_ context.Context, members []*models.Article) (models.ClusterLabel, error) {
	if p.err != nil {
		return models.ClusterLabel{}, p.err
	}
	return models.ClusterLabel{Topic: "Topic " + members[0].ID, Summary: "Summary of the story."}, nil
}

type ManagerSuite struct {
	suite.Suite
	storage *memStorage
	manager *Manager
	now     time.Time
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s.storage = newMemStorage()
	s.manager = s.newManager(&stubProvider{})
}

func (s *ManagerSuite) newManager(p labeling.Provider) *Manager {
	m := NewManager(s.storage, labeling.NewLabeler(p, labeling.Options{}), Config{})
	m.now = func() time.Time { return s.now }
	return m
}

func (s *ManagerSuite) embedded(id, feed string, ageHours int, vec ...float32) *models.ArticleWithEmbedding {
	published := s.now.Add(-time.Duration(ageHours) * time.Hour)
	return &models.ArticleWithEmbedding{
		Article: models.Article{
			ID:          id,
			Title:       "Title " + id,
			Excerpt:     "Excerpt " + id,
			FeedID:      "feed-" + feed,
			FeedName:    feed,
			PublishedAt: &published,
		},
		Embedding: vec,
	}
}

func (s *ManagerSuite) seedStory() {
	s.storage.embedded = []*models.ArticleWithEmbedding{
		s.embedded("a", "Reuters", 1, 1, 0, 0, 0),
		s.embedded("b", "BBC", 2, 0.99, 0.05, 0, 0),
		s.embedded("c", "NPR", 3, 0.98, 0, 0.05, 0),
		s.embedded("d", "Blog", 4, 0, 0, 0, 1),
		s.embedded("e", "Other", 5, 0, 0, -1, 0),
	}
}

func (s *ManagerSuite) distinctPlain(n int) []*models.Article {
	out := make([]*models.Article, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.Article{
			ID:       fmt.Sprintf("p%02d", i),
			Title:    fmt.Sprintf("alpha%02d bravo%02d", i, i),
			FeedName: fmt.Sprintf("Feed %d", i%3),
		})
	}
	return out
}

func (s *ManagerSuite) TestGenerateClusters_VectorPath() {
	s.seedStory()

	result, err := s.manager.GenerateClusters(context.Background(), "global", 0)
	s.Require().NoError(err)

	s.Equal(models.MethodVector, result.Method)
	s.Equal(5, result.ArticlesConsidered)
	s.Equal(3, result.ArticlesClustered)
	s.Require().Len(result.Clusters, 1)

	c := result.Clusters[0]
	s.ElementsMatch([]string{"a", "b", "c"}, c.ArticleIDs)
	s.Equal(3, c.ArticleCount)
	s.Len(c.Sources, 3)
	s.Equal("Topic a", c.Topic)
	s.Equal(s.now.Add(168*time.Hour), c.ExpiresAt)
	s.Greater(c.RelevanceScore, 9.0)

	stored, err := s.storage.GetClusterByID(context.Background(), c.ID)
	s.Require().NoError(err)
	s.Equal("Topic a", stored.Topic)
	for _, id := range []string{"a", "b", "c"} {
		s.Equal(c.ID, s.storage.assignments[id])
	}
	s.NotContains(s.storage.assignments, "d")
}

func (s *ManagerSuite) TestGenerateClusters_FallbackToIndividual() {
	s.storage.embedded = []*models.ArticleWithEmbedding{s.embedded("x", "A", 1, 1, 0)}
	s.storage.plain = s.distinctPlain(20)

	result, err := s.manager.GenerateClusters(context.Background(), "global", time.Hour)
	s.Require().NoError(err)

	s.Equal(models.MethodIndividual, result.Method)
	s.Equal(20, result.ArticlesConsidered)
	s.Len(result.Clusters, 15)
	for i, c := range result.Clusters {
		s.Equal(1, c.ArticleCount)
		if i > 0 {
			s.LessOrEqual(c.RelevanceScore, result.Clusters[i-1].RelevanceScore)
		}
	}
}

func (s *ManagerSuite) TestGenerateClusters_LabelFailureKeepsFallback() {
	s.seedStory()
	s.manager = s.newManager(&stubProvider{err: &labeling.ProviderError{StatusCode: 401}})

	result, err := s.manager.GenerateClusters(context.Background(), "global", 0)
	s.Require().NoError(err)
	s.Require().Len(result.Clusters, 1)
	s.Equal("Title a", result.Clusters[0].Topic)
	s.Equal("Excerpt a", result.Clusters[0].Summary)
}

func (s *ManagerSuite) TestGenerateClusters_NoLabeler() {
	s.seedStory()
	m := NewManager(s.storage, nil, Config{})
	m.now = func() time.Time { return s.now }

	result, err := m.GenerateClusters(context.Background(), "global", 0)
	s.Require().NoError(err)
	s.Require().Len(result.Clusters, 1)
	s.Equal("Title a", result.Clusters[0].Topic)
}

func (s *ManagerSuite) TestGenerateClusters_SupersedesPreviousRun() {
	s.seedStory()
	ctx := context.Background()

	first, err := s.manager.GenerateClusters(ctx, "global", 0)
	s.Require().NoError(err)
	second, err := s.manager.GenerateClusters(ctx, "global", 0)
	s.Require().NoError(err)

	s.Equal(1, second.Superseded)
	s.NotEqual(first.Clusters[0].ID, second.Clusters[0].ID)
	s.ElementsMatch(first.Clusters[0].ArticleIDs, second.Clusters[0].ArticleIDs)

	gone, err := s.storage.GetClusterByID(ctx, first.Clusters[0].ID)
	s.Require().NoError(err)
	s.Nil(gone)
	s.Equal(second.Clusters[0].ID, s.storage.assignments["a"])
}

func (s *ManagerSuite) TestGenerateClusters_OtherScopeUntouched() {
	s.seedStory()
	ctx := context.Background()

	other, err := s.manager.GenerateClusters(ctx, "tech", 0)
	s.Require().NoError(err)
	_, err = s.manager.GenerateClusters(ctx, "global", 0)
	s.Require().NoError(err)

	kept, err := s.storage.GetClusterByID(ctx, other.Clusters[0].ID)
	s.Require().NoError(err)
	s.NotNil(kept)
}

func (s *ManagerSuite) TestGenerateClusters_NothingToCluster() {
	ctx := context.Background()
	s.seedStory()
	_, err := s.manager.GenerateClusters(ctx, "global", 0)
	s.Require().NoError(err)

	s.storage.embedded = nil
	s.storage.plain = nil
	result, err := s.manager.GenerateClusters(ctx, "global", 0)
	s.Require().NoError(err)
	s.Equal(models.MethodNone, result.Method)
	s.Empty(result.Clusters)
	s.NotEmpty(result.Reason)

	live, err := s.manager.GetUserClusters(ctx, "global", 0)
	s.Require().NoError(err)
	s.Len(live, 1, "previous clusters stay until they expire")
}

func (s *ManagerSuite) TestGenerateClusters_Errors() {
	ctx := context.Background()

	_, err := s.manager.GenerateClusters(ctx, "", 0)
	s.ErrorIs(err, ErrEmptyScope)

	s.storage.embeddedErr = errors.New("database is locked")
	_, err = s.manager.GenerateClusters(ctx, "global", 0)
	s.Error(err)
	s.storage.embeddedErr = nil

	s.seedStory()
	s.storage.createErr = errors.New("disk full")
	_, err = s.manager.GenerateClusters(ctx, "global", 0)
	s.ErrorContains(err, "create cluster")
	s.storage.createErr = nil

	s.storage.embedded = append(s.storage.embedded, s.embedded("z", "Z", 1, 1, 0))
	_, err = s.manager.GenerateClusters(ctx, "global", 0)
	s.ErrorIs(err, similarity.ErrDimensionMismatch)
}

func (s *ManagerSuite) TestGenerateClusters_BackfillEnablesVectorPath() {
	s.storage.embedded = []*models.ArticleWithEmbedding{
		s.embedded("a", "Reuters", 1),
		s.embedded("b", "BBC", 2),
		s.embedded("c", "NPR", 3),
	}
	s.manager.SetBackfiller(embedding.NewBackfiller(constantEmbedder{}, s.storage, 0))

	result, err := s.manager.GenerateClusters(context.Background(), "global", 0)
	s.Require().NoError(err)
	s.Equal(models.MethodVector, result.Method)
	s.Require().Len(result.Clusters, 1)
	s.Len(result.Clusters[0].ArticleIDs, 3)
}

func (s *ManagerSuite) TestGenerateClusters_ConcurrentCallsShareRun() {
	s.seedStory()
	s.storage.gate = make(chan struct{})
	s.storage.entered = make(chan struct{}, 4)

	var wg sync.WaitGroup
	results := make([]*models.GenerationResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.manager.GenerateClusters(context.Background(), "global", 0)
			s.NoError(err)
			results[i] = r
		}(i)
		if i == 0 {
			<-s.storage.entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(s.storage.gate)
	wg.Wait()

	s.Equal(int32(1), atomic.LoadInt32(&s.storage.embedCalls))
	s.Same(results[0], results[1])
}

func (s *ManagerSuite) TestGenerateClusters_CancelledCallerDoesNotAbortSharedRun() {
	s.seedStory()
	s.storage.gate = make(chan struct{})
	s.storage.entered = make(chan struct{}, 4)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.manager.GenerateClusters(firstCtx, "global", 0)
		firstErr <- err
	}()
	<-s.storage.entered

	type outcome struct {
		result *models.GenerationResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		r, err := s.manager.GenerateClusters(context.Background(), "global", 0)
		second <- outcome{r, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	s.ErrorIs(<-firstErr, context.Canceled)

	close(s.storage.gate)
	got := <-second
	s.Require().NoError(got.err)
	s.Len(got.result.Clusters, 1)
	s.Equal(int32(1), atomic.LoadInt32(&s.storage.embedCalls))
}

func (s *ManagerSuite) TestGetUserClusters() {
	ctx := context.Background()
	for i, rel := range []float64{2, 9, 5} {
		_, err := s.storage.CreateCluster(ctx, &models.Cluster{
			Scope:          "global",
			Topic:          fmt.Sprintf("t%d", i),
			RelevanceScore: rel,
			ExpiresAt:      s.now.Add(time.Hour),
		})
		s.Require().NoError(err)
	}
	_, err := s.storage.CreateCluster(ctx, &models.Cluster{Scope: "global", RelevanceScore: 100, ExpiresAt: s.now})
	s.Require().NoError(err)

	clusters, err := s.manager.GetUserClusters(ctx, "global", 2)
	s.Require().NoError(err)
	s.Require().Len(clusters, 2)
	s.Equal(9.0, clusters[0].RelevanceScore)
	s.Equal(5.0, clusters[1].RelevanceScore)

	_, err = s.manager.GetUserClusters(ctx, "", 2)
	s.ErrorIs(err, ErrEmptyScope)
}

func (s *ManagerSuite) TestGetCluster() {
	ctx := context.Background()
	live, _ := s.storage.CreateCluster(ctx, &models.Cluster{Scope: "global", ExpiresAt: s.now.Add(time.Hour)})
	dead, _ := s.storage.CreateCluster(ctx, &models.Cluster{Scope: "global", ExpiresAt: s.now.Add(-time.Hour)})

	got, err := s.manager.GetCluster(ctx, live.ID)
	s.Require().NoError(err)
	s.Equal(live.ID, got.ID)

	_, err = s.manager.GetCluster(ctx, dead.ID)
	s.ErrorIs(err, ErrClusterNotFound)
	_, err = s.manager.GetCluster(ctx, "missing")
	s.ErrorIs(err, ErrClusterNotFound)
}

func (s *ManagerSuite) TestExpireOldClusters() {
	ctx := context.Background()
	s.seedStory()
	_, err := s.manager.GenerateClusters(ctx, "global", 0)
	s.Require().NoError(err)

	n, err := s.manager.ExpireOldClusters(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.now = s.now.Add(169 * time.Hour)
	n, err = s.manager.ExpireOldClusters(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *ManagerSuite) TestFindSimilarArticles() {
	ctx := context.Background()
	s.seedStory()

	similar, err := s.manager.FindSimilarArticles(ctx, "a", "global")
	s.Require().NoError(err)
	s.Require().Len(similar, 2)
	s.Equal("b", similar[0].ArticleID)
	s.Equal("c", similar[1].ArticleID)

	none, err := s.manager.FindSimilarArticles(ctx, "missing", "global")
	s.Require().NoError(err)
	s.NotNil(none)
	s.Empty(none)

	_, err = s.manager.FindSimilarArticles(ctx, "a", "")
	s.ErrorIs(err, ErrEmptyScope)
}

type constantEmbedder struct{}

func (constantEmbedder) ModelName() string { return "constant" }

func (constantEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 1}
	}
	return out, nil
}
