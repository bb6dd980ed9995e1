// Package clustering groups articles that cover the same story.
//
// The vector path forms clusters greedily from embeddings; the fallback chain
// (keywords, time windows, individual promotion) takes over when embeddings
// are missing or produce nothing.
package clustering

import (
	"time"

	"github.com/thebtf/trendwire/internal/scoring"
	"github.com/thebtf/trendwire/pkg/models"
)

const (
	// DefaultSimilarityThreshold is the minimum pairwise cosine similarity inside a vector cluster.
	DefaultSimilarityThreshold = 0.4
	// MinClusterArticles is the number of articles that must join a seed.
	MinClusterArticles = 1
	// MinClusterSources is the distinct-source floor for multi-source clusters.
	MinClusterSources = 1
	// MinEngagementThreshold admits clusters that miss the source floor.
	MinEngagementThreshold = 0.2

	// KeywordSimilarityThreshold must be exceeded for two articles to be linked.
	KeywordSimilarityThreshold = 0.2
	// TimeWindow is the bucket width for time-window clustering.
	TimeWindow = 6 * time.Hour
	// TimeWindowSimilarity is the flat cohesion recorded for time-window clusters.
	TimeWindowSimilarity = 0.8
	// MinKeywordClusters below which the time-window pass is attempted.
	MinKeywordClusters = 5
	// MaxIndividualClusters caps individual promotion.
	MaxIndividualClusters = 15
)

// Options tunes cluster formation.
type Options struct {
	Now                   time.Time
	Threshold             float64
	MinArticles           int
	MinSources            int
	MinEngagement         float64
	MaxIndividualClusters int
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		Threshold:             DefaultSimilarityThreshold,
		MinArticles:           MinClusterArticles,
		MinSources:            MinClusterSources,
		MinEngagement:         MinEngagementThreshold,
		MaxIndividualClusters: MaxIndividualClusters,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Threshold == 0 {
		o.Threshold = d.Threshold
	}
	if o.MinArticles <= 0 {
		o.MinArticles = d.MinArticles
	}
	if o.MinSources <= 0 {
		o.MinSources = d.MinSources
	}
	if o.MinEngagement == 0 {
		o.MinEngagement = d.MinEngagement
	}
	if o.MaxIndividualClusters <= 0 {
		o.MaxIndividualClusters = d.MaxIndividualClusters
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Candidate is an accepted, not yet labeled or persisted cluster.
type Candidate struct {
	LatestAt      time.Time
	Method        models.ClusterMethod
	Members       []*models.Article
	ArticleIDs    []string
	Sources       []string
	AvgSimilarity float64
	AvgEngagement float64
}

func newCandidate(members []*models.Article, avgSimilarity float64, method models.ClusterMethod, now time.Time) *Candidate {
	c := &Candidate{
		Method:        method,
		Members:       members,
		ArticleIDs:    make([]string, 0, len(members)),
		Sources:       scoring.DistinctSources(members),
		AvgSimilarity: avgSimilarity,
		AvgEngagement: scoring.AverageEngagement(members, now),
	}
	for _, m := range members {
		c.ArticleIDs = append(c.ArticleIDs, m.ID)
		if m.PublishedAt != nil && m.PublishedAt.After(c.LatestAt) {
			c.LatestAt = *m.PublishedAt
		}
	}
	return c
}

// RelevanceScore ranks the candidate against others from the same run.
func (c *Candidate) RelevanceScore() float64 {
	return scoring.RelevanceScore(len(c.ArticleIDs), len(c.Sources), c.AvgEngagement)
}

// accepts applies the composition rule shared by the vector and keyword
// passes: enough articles joined the seed, and either enough distinct
// sources or enough engagement to stand as a single-source story.
func (o Options) accepts(joined int, c *Candidate) bool {
	if joined < o.MinArticles || len(c.Sources) < 1 {
		return false
	}
	return len(c.Sources) >= o.MinSources || c.AvgEngagement >= o.MinEngagement
}
