package usecase

import (
	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// diversifyMMR selects up to take candidates by Maximal Marginal Relevance:
// greedily maximize lambda*relevance - (1-lambda)*maxSimilarityToSelected.
// Relevance is the boosted fused score normalized over the input; similarity
// is embedding cosine. lambda=1 degenerates to the input relevance order,
// lambda=0 maximizes diversity. Ties keep the earlier fused rank, which makes
// the stage deterministic for a fixed input order.
func diversifyMMR(candidates []domain.FusedCandidate, take int, lambda float64) []domain.FusedCandidate {
	if take <= 0 || len(candidates) == 0 {
		return nil
	}
	if take > len(candidates) {
		take = len(candidates)
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	relevance := normalizedRelevance(candidates)

	selected := make([]domain.FusedCandidate, 0, take)
	selectedIdx := make([]int, 0, take)
	used := make([]bool, len(candidates))

	for len(selected) < take {
		bestIdx := -1
		bestScore := 0.0
		for i := range candidates {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selectedIdx {
				sim := candidateSimilarity(candidates[i], candidates[j])
				if sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		if bestIdx == -1 {
			break
		}
		used[bestIdx] = true
		selectedIdx = append(selectedIdx, bestIdx)
		selected = append(selected, candidates[bestIdx])
	}

	return selected
}

func normalizedRelevance(candidates []domain.FusedCandidate) []float64 {
	minScore := candidates[0].BoostedScore
	maxScore := candidates[0].BoostedScore
	for _, c := range candidates[1:] {
		if c.BoostedScore < minScore {
			minScore = c.BoostedScore
		}
		if c.BoostedScore > maxScore {
			maxScore = c.BoostedScore
		}
	}

	out := make([]float64, len(candidates))
	span := maxScore - minScore
	for i, c := range candidates {
		if span <= 0 {
			if c.BoostedScore > 0 {
				out[i] = 1
			}
			continue
		}
		out[i] = (c.BoostedScore - minScore) / span
	}
	return out
}

// candidateSimilarity prefers embedding cosine and falls back to token
// Jaccard overlap when a backend did not return vectors.
func candidateSimilarity(a, b domain.FusedCandidate) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	ta, tb := toTokenSet(a.Text), toTokenSet(b.Text)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for token := range ta {
		if _, ok := tb[token]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
