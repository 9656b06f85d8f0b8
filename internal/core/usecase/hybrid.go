package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

// querySignals holds the per-request search inputs shared by both signals.
type querySignals struct {
	text      string
	terms     []string
	embedding []float32
}

// HybridRetriever fans out dense and lexical searches per selected knowledge
// base, fuses each KB's two lists with RRF, applies the KB boost and merges
// everything into one global ranking. A timed-out or failed signal is treated
// as empty for its KB: degraded, never fatal.
type HybridRetriever struct {
	vector        ports.VectorSearcher
	lexical       ports.LexicalSearcher
	searchTimeout time.Duration
}

func NewHybridRetriever(vector ports.VectorSearcher, lexical ports.LexicalSearcher, searchTimeout time.Duration) *HybridRetriever {
	if searchTimeout <= 0 {
		searchTimeout = 10 * time.Second
	}
	return &HybridRetriever{vector: vector, lexical: lexical, searchTimeout: searchTimeout}
}

func (r *HybridRetriever) Retrieve(
	ctx context.Context,
	scope *domain.TenantScope,
	q querySignals,
	selections []domain.KBSelection,
) ([]domain.FusedCandidate, []string) {
	perKB := make([][]domain.FusedCandidate, len(selections))
	degraded := make([]string, 0)
	var degradedMu sync.Mutex

	markDegraded := func(kbID, signal string, err error) {
		degradedMu.Lock()
		degraded = append(degraded, kbID+"/"+signal)
		degradedMu.Unlock()
		slog.Warn("hybrid_signal_degraded",
			"tenant", scope.TenantID,
			"kb", kbID,
			"signal", signal,
			"error", err,
		)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i, sel := range selections {
		i, sel := i, sel
		group.Go(func() error {
			vectorHits, lexicalHits := r.searchKB(groupCtx, scope, q, sel.KBID, markDegraded)

			fused := fuseRRF(vectorHits, lexicalHits, scope.RRFK)
			boost := sel.Boost
			if boost <= 0 {
				boost = 1
			}
			for j := range fused {
				fused[j].KBBoost = boost
				fused[j].BoostedScore = fused[j].FusedScore * boost
			}
			perKB[i] = fused
			return nil
		})
	}
	// Workers only report degradation, they never return errors.
	_ = group.Wait()

	return mergeBoosted(perKB), degraded
}

// searchKB runs the two signals of one KB concurrently, each under its own
// timeout. Results that did arrive are kept even when the sibling signal or
// the overall request is being cancelled.
func (r *HybridRetriever) searchKB(
	ctx context.Context,
	scope *domain.TenantScope,
	q querySignals,
	kbID string,
	markDegraded func(kbID, signal string, err error),
) (vectorHits, lexicalHits []domain.ScoredChunk) {
	var wg sync.WaitGroup

	if len(q.embedding) > 0 && r.vector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			searchCtx, cancel := context.WithTimeout(ctx, r.searchTimeout)
			defer cancel()
			hits, err := r.vector.Search(searchCtx, scope.TenantID, kbID, q.embedding, scope.VectorTopK)
			if err != nil {
				markDegraded(kbID, "vector", err)
				return
			}
			vectorHits = hits
		}()
	}

	if len(q.terms) > 0 && r.lexical != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			searchCtx, cancel := context.WithTimeout(ctx, r.searchTimeout)
			defer cancel()
			hits, err := r.lexical.SearchLexical(searchCtx, scope.TenantID, kbID, q.terms, scope.BM25TopK)
			if err != nil {
				markDegraded(kbID, "lexical", err)
				return
			}
			lexicalHits = hits
		}()
	}

	wg.Wait()
	return vectorHits, lexicalHits
}
