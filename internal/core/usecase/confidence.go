package usecase

import (
	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// estimateConfidence blends the top citation score with the mass of the top
// three, clamped to [0,1]. Zero citations always mean zero confidence.
func estimateConfidence(citations []domain.Citation) float64 {
	if len(citations) == 0 {
		return 0
	}
	top := citations[0].Score

	n := len(citations)
	if n > 3 {
		n = 3
	}
	var sum float64
	for _, c := range citations[:n] {
		sum += c.Score
	}
	mean := sum / float64(n)

	return clamp01(0.7*top + 0.3*mean)
}

// answerable is the tenant-tunable gate: too few citations always fail; low
// confidence fails unless the tenant forces answers whenever citations exist.
func answerable(scope *domain.TenantScope, citations []domain.Citation, confidence float64) bool {
	if len(citations) < scope.MinCitations {
		return false
	}
	if len(citations) == 0 {
		return false
	}
	if confidence >= scope.MinConfidence {
		return true
	}
	return scope.ForceIfHasCitations
}
