package clustering

import (
	"sort"

	"github.com/thebtf/trendwire/pkg/models"
	"github.com/thebtf/trendwire/pkg/similarity"
)

// FormVectorClusters greedily groups articles whose embeddings are pairwise
// similar. Candidates are visited newest first; each unassigned seed collects
// its unassigned neighbours at or above the threshold, best first, admitting
// a neighbour only if it clears the threshold against every member already
// admitted. No article ends up in more than one cluster.
//
// The result is order dependent and not globally optimal.
func FormVectorClusters(pool []*models.ArticleWithEmbedding, opts Options) ([]*Candidate, error) {
	opts = opts.withDefaults()
	if len(pool) == 0 {
		return nil, nil
	}

	sorted := make([]*models.ArticleWithEmbedding, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedEpoch() > sorted[j].PublishedEpoch()
	})

	sims, err := pairwiseSimilarities(sorted)
	if err != nil {
		return nil, err
	}

	n := len(sorted)
	assigned := make([]bool, n)
	var clusters []*Candidate

	for seed := 0; seed < n; seed++ {
		if assigned[seed] {
			continue
		}

		prospects := make([]int, 0)
		for j := 0; j < n; j++ {
			if j == seed || assigned[j] {
				continue
			}
			if sims[seed][j] >= opts.Threshold {
				prospects = append(prospects, j)
			}
		}
		if len(prospects) == 0 {
			continue
		}
		sort.SliceStable(prospects, func(a, b int) bool {
			return sims[seed][prospects[a]] > sims[seed][prospects[b]]
		})

		group := []int{seed}
		var pairTotal float64
		var pairCount int
		for _, p := range prospects {
			fits := true
			for _, m := range group {
				if sims[p][m] < opts.Threshold {
					fits = false
					break
				}
			}
			if !fits {
				continue
			}
			for _, m := range group {
				pairTotal += sims[p][m]
				pairCount++
			}
			group = append(group, p)
		}

		members := make([]*models.Article, 0, len(group))
		for _, idx := range group {
			members = append(members, &sorted[idx].Article)
		}
		avg := 1.0
		if pairCount > 0 {
			avg = pairTotal / float64(pairCount)
		}

		candidate := newCandidate(members, avg, models.MethodVector, opts.Now)
		if !opts.accepts(len(group)-1, candidate) {
			continue
		}
		for _, idx := range group {
			assigned[idx] = true
		}
		clusters = append(clusters, candidate)
	}

	return clusters, nil
}

// pairwiseSimilarities computes the full symmetric similarity matrix, failing
// on the first dimension mismatch.
func pairwiseSimilarities(articles []*models.ArticleWithEmbedding) ([][]float64, error) {
	n := len(articles)
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
		sims[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s, err := similarity.CosineSimilarity(articles[i].Embedding, articles[j].Embedding)
			if err != nil {
				return nil, err
			}
			sims[i][j] = s
			sims[j][i] = s
		}
	}
	return sims, nil
}
