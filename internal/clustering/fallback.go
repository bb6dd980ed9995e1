package clustering

import (
	"fmt"
	"sort"

	"github.com/thebtf/trendwire/internal/scoring"
	"github.com/thebtf/trendwire/pkg/models"
	"github.com/thebtf/trendwire/pkg/similarity"
)

// KeywordClusters links articles whose title+excerpt keyword sets have a
// Jaccard similarity above KeywordSimilarityThreshold with the seed.
// AvgSimilarity records the mean seed-to-member keyword overlap.
func KeywordClusters(articles []*models.Article, opts Options) []*Candidate {
	opts = opts.withDefaults()
	if len(articles) == 0 {
		return nil
	}

	keywords := make([]map[string]bool, len(articles))
	for i, a := range articles {
		keywords[i] = similarity.ArticleKeywords(a)
	}

	assigned := make([]bool, len(articles))
	var clusters []*Candidate

	for i := range articles {
		// an empty keyword set carries no evidence of a shared story
		if assigned[i] || len(keywords[i]) == 0 {
			continue
		}

		group := []int{i}
		var total float64
		for j := i + 1; j < len(articles); j++ {
			if assigned[j] || len(keywords[j]) == 0 {
				continue
			}
			sim := similarity.JaccardSimilarity(keywords[i], keywords[j])
			if sim > KeywordSimilarityThreshold {
				group = append(group, j)
				total += sim
			}
		}
		if len(group) < 2 {
			continue
		}

		members := make([]*models.Article, 0, len(group))
		for _, idx := range group {
			members = append(members, articles[idx])
		}
		candidate := newCandidate(members, total/float64(len(group)-1), models.MethodKeyword, opts.Now)
		if !opts.accepts(len(group)-1, candidate) {
			continue
		}
		for _, idx := range group {
			assigned[idx] = true
		}
		clusters = append(clusters, candidate)
	}

	return clusters
}

// TimeWindowClusters buckets articles into fixed TimeWindow slots by publish
// time. A bucket with at least two articles from at least two sources becomes
// a cluster. Articles with no publish time are ignored. Buckets are returned
// newest first.
func TimeWindowClusters(articles []*models.Article, opts Options) []*Candidate {
	opts = opts.withDefaults()

	windowMillis := TimeWindow.Milliseconds()
	buckets := make(map[int64][]*models.Article)
	for _, a := range articles {
		if a.PublishedAt == nil {
			continue
		}
		slot := a.PublishedEpoch() / windowMillis
		buckets[slot] = append(buckets[slot], a)
	}

	slots := make([]int64, 0, len(buckets))
	for slot := range buckets {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] > slots[j] })

	var clusters []*Candidate
	for _, slot := range slots {
		members := buckets[slot]
		if len(members) < 2 {
			continue
		}
		candidate := newCandidate(members, TimeWindowSimilarity, models.MethodTimeWindow, opts.Now)
		if len(candidate.Sources) < 2 {
			continue
		}
		clusters = append(clusters, candidate)
	}
	return clusters
}

// IndividualClusters promotes the most engaging articles to singleton
// clusters, capped at opts.MaxIndividualClusters.
func IndividualClusters(articles []*models.Article, opts Options) []*Candidate {
	opts = opts.withDefaults()
	if len(articles) == 0 {
		return nil
	}

	type ranked struct {
		article *models.Article
		score   float64
	}
	items := make([]ranked, 0, len(articles))
	for _, a := range articles {
		items = append(items, ranked{article: a, score: scoring.EngagementScore(a, opts.Now)})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	limit := opts.MaxIndividualClusters
	if len(items) < limit {
		limit = len(items)
	}
	clusters := make([]*Candidate, 0, limit)
	for _, item := range items[:limit] {
		clusters = append(clusters, newCandidate([]*models.Article{item.article}, 1.0, models.MethodIndividual, opts.Now))
	}
	return clusters
}

// Fallback is the outcome of the fallback chain.
type Fallback struct {
	Method   models.ClusterMethod
	Reason   string
	Clusters []*Candidate
}

// RunFallbackChain clusters articles that lack usable embeddings. Keyword
// clustering runs first; the time-window pass replaces it only when keywords
// produced fewer than MinKeywordClusters clusters and the windows produced
// more. When both come back empty the most engaging articles are promoted
// individually.
func RunFallbackChain(articles []*models.Article, opts Options) Fallback {
	opts = opts.withDefaults()
	if len(articles) == 0 {
		return Fallback{Method: models.MethodNone, Reason: "no articles available"}
	}

	result := Fallback{
		Method:   models.MethodKeyword,
		Clusters: KeywordClusters(articles, opts),
	}
	result.Reason = fmt.Sprintf("keyword clustering produced %d clusters", len(result.Clusters))

	if len(result.Clusters) < MinKeywordClusters {
		windows := TimeWindowClusters(articles, opts)
		if len(windows) > len(result.Clusters) {
			result = Fallback{
				Method:   models.MethodTimeWindow,
				Clusters: windows,
				Reason: fmt.Sprintf("time-window clustering produced %d clusters, keyword clustering %d",
					len(windows), len(result.Clusters)),
			}
		}
	}

	if len(result.Clusters) == 0 {
		result = Fallback{
			Method:   models.MethodIndividual,
			Clusters: IndividualClusters(articles, opts),
			Reason:   "no keyword or time-window clusters; promoted top articles individually",
		}
	}
	return result
}
