package usecase

import (
	"sort"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

const defaultRRFK = 60

// fuseRRF combines the dense and lexical ranked lists of one knowledge base
// using Reciprocal Rank Fusion: score(c) = sum over signals of 1/(k+rank),
// with 1-indexed ranks. A chunk absent from a signal contributes nothing for
// that signal. The result is deterministic for fixed inputs: ties are broken
// by the lower original rank, then ascending (document id, chunk index).
func fuseRRF(vector, lexical []domain.ScoredChunk, rrfK int) []domain.FusedCandidate {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]*domain.FusedCandidate, len(vector)+len(lexical))
	get := func(chunk domain.Chunk) *domain.FusedCandidate {
		key := chunk.Key()
		if c, ok := acc[key]; ok {
			if len(c.Embedding) == 0 && len(chunk.Embedding) > 0 {
				c.Embedding = chunk.Embedding
			}
			if c.Text == "" && chunk.Text != "" {
				c.Text = chunk.Text
			}
			return c
		}
		c := &domain.FusedCandidate{Chunk: chunk, KBBoost: 1}
		acc[key] = c
		return c
	}

	for rank, hit := range vector {
		c := get(hit.Chunk)
		c.VectorScore = hit.Score
		c.VectorRank = rank + 1
		c.FusedScore += 1.0 / float64(rrfK+rank+1)
	}
	for rank, hit := range lexical {
		c := get(hit.Chunk)
		c.LexicalScore = hit.Score
		c.LexicalRank = rank + 1
		c.FusedScore += 1.0 / float64(rrfK+rank+1)
	}

	out := make([]domain.FusedCandidate, 0, len(acc))
	for _, c := range acc {
		c.BoostedScore = c.FusedScore
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		ri, rj := bestRank(out[i]), bestRank(out[j])
		if ri != rj {
			return ri < rj
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})

	return out
}

func bestRank(c domain.FusedCandidate) int {
	switch {
	case c.VectorRank > 0 && c.LexicalRank > 0:
		if c.VectorRank < c.LexicalRank {
			return c.VectorRank
		}
		return c.LexicalRank
	case c.VectorRank > 0:
		return c.VectorRank
	default:
		return c.LexicalRank
	}
}

// mergeBoosted flattens per-KB fused lists into one global ranking by boosted
// score, with the same deterministic tie-break as fusion.
func mergeBoosted(perKB [][]domain.FusedCandidate) []domain.FusedCandidate {
	total := 0
	for _, list := range perKB {
		total += len(list)
	}
	out := make([]domain.FusedCandidate, 0, total)
	for _, list := range perKB {
		out = append(out, list...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BoostedScore != out[j].BoostedScore {
			return out[i].BoostedScore > out[j].BoostedScore
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}
