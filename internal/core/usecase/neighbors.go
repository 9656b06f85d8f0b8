package usecase

import (
	"context"
	"log/slog"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

// expandNeighbors appends chunks adjacent to the selected candidates (same
// document, index +/- radius) as low-weight context, deduplicated against
// everything already present. The original ranking is never touched; the
// neighbors only keep snippets from starting or ending mid-sentence.
func expandNeighbors(
	ctx context.Context,
	chunks ports.ChunkReader,
	scope *domain.TenantScope,
	selected []domain.FusedCandidate,
	radius int,
) []domain.FusedCandidate {
	if radius <= 0 || chunks == nil || len(selected) == 0 {
		return selected
	}

	seen := make(map[string]struct{}, len(selected)*3)
	for _, c := range selected {
		seen[c.Key()] = struct{}{}
	}

	out := selected
	floor := selected[len(selected)-1].BoostedScore

	for _, c := range selected {
		if c.Neighbor {
			continue
		}
		neighbors, err := chunks.Neighbors(ctx, scope.TenantID, c.DocumentID, c.ChunkIndex, radius)
		if err != nil {
			slog.Warn("neighbor_expansion_degraded",
				"tenant", scope.TenantID,
				"stage", "neighbors",
				"document", c.DocumentID,
				"error", err,
			)
			continue
		}
		for _, n := range neighbors {
			if _, ok := seen[n.Key()]; ok {
				continue
			}
			seen[n.Key()] = struct{}{}
			out = append(out, domain.FusedCandidate{
				Chunk:        n,
				KBBoost:      1,
				BoostedScore: floor / 2,
				Neighbor:     true,
			})
		}
	}
	return out
}
