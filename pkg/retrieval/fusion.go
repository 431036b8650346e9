package retrieval

import "sort"

// DefaultRRFK is the conventional reciprocal-rank-fusion constant.
const DefaultRRFK = 60.0

// RankedList is one strategy's ordered result list with its fusion weight.
type RankedList struct {
	Name   string
	Weight float64
	IDs    []string
}

// FusedResult is one node's combined score across all lists.
type FusedResult struct {
	ID    string
	Score float64
}

// FuseRRF combines ranked lists with reciprocal rank fusion:
//
//	score(n) = Σ_i weight_i / (k + rank_i(n))
//
// summed over every list containing n; lists that don't contain a node
// contribute zero. Ranks are 1-based. k and the per-list weights come from
// configuration so operators can tune recall vs. precision.
func FuseRRF(k float64, lists []RankedList) []FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64)
	order := make([]string, 0)

	for _, list := range lists {
		weight := list.Weight
		if weight == 0 {
			weight = 1
		}

		for rank, id := range list.IDs {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += weight / (k + float64(rank+1))
		}
	}

	results := make([]FusedResult, 0, len(order))
	for _, id := range order {
		results = append(results, FusedResult{ID: id, Score: scores[id]})
	}

	// Stable sort keeps first-seen order for equal scores, which favors the
	// earlier (higher-priority) list on exact ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}
