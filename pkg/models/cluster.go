package models

import (
	"time"
)

// ClusterMethod names the stage of the clustering pipeline that produced a cluster.
type ClusterMethod string

const (
	MethodVector     ClusterMethod = "vector"
	MethodKeyword    ClusterMethod = "keyword"
	MethodTimeWindow ClusterMethod = "time_window"
	MethodIndividual ClusterMethod = "individual"
	MethodNone       ClusterMethod = "none"
)

// Cluster is a persisted group of articles covering the same story.
// ArticleCount always equals len(ArticleIDs) and Sources holds the distinct
// feed names of the members.
type Cluster struct {
	LatestAt       time.Time     `json:"latest_timestamp"`
	ExpiresAt      time.Time     `json:"expires_at"`
	CreatedAt      time.Time     `json:"created_at"`
	ID             string        `json:"id"`
	Scope          string        `json:"scope"`
	Topic          string        `json:"topic"`
	Summary        string        `json:"summary"`
	Method         ClusterMethod `json:"method"`
	ArticleIDs     []string      `json:"article_ids"`
	Sources        []string      `json:"sources"`
	ArticleCount   int           `json:"article_count"`
	AvgSimilarity  float64       `json:"avg_similarity"`
	RelevanceScore float64       `json:"relevance_score"`
}

// IsExpired reports whether the cluster is past its expiry at the given instant.
func (c *Cluster) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// ClusterPatch carries the mutable fields of a cluster for partial updates.
// Nil fields are left unchanged.
type ClusterPatch struct {
	Topic          *string
	Summary        *string
	RelevanceScore *float64
	ExpiresAt      *time.Time
}

// ClusterFilter selects clusters for listing.
type ClusterFilter struct {
	Scope          string
	Limit          int
	IncludeExpired bool
}

// ClusterLabel is the human readable topic and one-line summary of a cluster.
type ClusterLabel struct {
	Topic    string `json:"topic"`
	Summary  string `json:"summary"`
	Fallback bool   `json:"-"`
}

// GenerationResult describes the outcome of one cluster generation run.
type GenerationResult struct {
	Clusters           []*Cluster    `json:"clusters"`
	Method             ClusterMethod `json:"method"`
	Reason             string        `json:"reason,omitempty"`
	Scope              string        `json:"scope"`
	ProcessingTime     time.Duration `json:"processing_time"`
	ArticlesConsidered int           `json:"articles_considered"`
	ArticlesClustered  int           `json:"articles_clustered"`
	Superseded         int           `json:"superseded"`
}
