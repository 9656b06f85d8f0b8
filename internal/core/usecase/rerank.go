package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

// reranker re-scores candidates against the query. The contract is fixed for
// every driver: the output contains exactly the input candidates with a new
// score in [0,1]; switching drivers never requires upstream or downstream
// changes.
type reranker interface {
	Name() domain.RerankStrategy
	Rerank(ctx context.Context, query string, queryEmbedding []float32, candidates []domain.FusedCandidate, topN int) []domain.RerankedCandidate
}

// rerankerSet holds the four closed drivers; selection is a tenant config
// value validated in TenantScope.Validate.
type rerankerSet struct {
	drivers map[domain.RerankStrategy]reranker
}

func newRerankerSet(generator ports.TextGenerator, provider ports.RerankProvider, judgeBatchSize int, judgeRate rate.Limit) *rerankerSet {
	if judgeBatchSize <= 0 {
		judgeBatchSize = 8
	}
	if judgeRate <= 0 {
		judgeRate = rate.Limit(2)
	}
	return &rerankerSet{
		drivers: map[domain.RerankStrategy]reranker{
			domain.RerankNone:      noneReranker{},
			domain.RerankEmbedding: embeddingReranker{},
			domain.RerankLLM: &llmReranker{
				generator: generator,
				batchSize: judgeBatchSize,
				limiter:   rate.NewLimiter(judgeRate, 1),
			},
			domain.RerankCohere: cohereReranker{provider: provider},
		},
	}
}

func (s *rerankerSet) For(strategy domain.RerankStrategy) reranker {
	if driver, ok := s.drivers[strategy]; ok {
		return driver
	}
	return noneReranker{}
}

// fusedOrderScores keeps the incoming order, assigning the normalized fused
// score. Shared by the none driver and every degraded path.
func fusedOrderScores(candidates []domain.FusedCandidate) []domain.RerankedCandidate {
	out := make([]domain.RerankedCandidate, len(candidates))
	if len(candidates) == 0 {
		return out
	}
	relevance := normalizedRelevance(candidates)
	for i, c := range candidates {
		out[i] = domain.RerankedCandidate{FusedCandidate: c, RerankScore: relevance[i]}
	}
	return out
}

func sortReranked(out []domain.RerankedCandidate) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RerankScore != out[j].RerankScore {
			return out[i].RerankScore > out[j].RerankScore
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
}

type noneReranker struct{}

func (noneReranker) Name() domain.RerankStrategy { return domain.RerankNone }

func (noneReranker) Rerank(_ context.Context, _ string, _ []float32, candidates []domain.FusedCandidate, _ int) []domain.RerankedCandidate {
	return fusedOrderScores(candidates)
}

// embeddingReranker recomputes cosine similarity between the query embedding
// and each candidate's embedding. Cosine lives in [-1,1] and is mapped to
// [0,1] before confidence aggregation.
type embeddingReranker struct{}

func (embeddingReranker) Name() domain.RerankStrategy { return domain.RerankEmbedding }

func (embeddingReranker) Rerank(_ context.Context, _ string, queryEmbedding []float32, candidates []domain.FusedCandidate, topN int) []domain.RerankedCandidate {
	if len(queryEmbedding) == 0 {
		return fusedOrderScores(candidates)
	}
	head, tail := splitHead(candidates, topN)

	out := make([]domain.RerankedCandidate, 0, len(candidates))
	for _, c := range head {
		score := (cosineSimilarity(queryEmbedding, c.Embedding) + 1) / 2
		out = append(out, domain.RerankedCandidate{FusedCandidate: c, RerankScore: score})
	}
	sortReranked(out)
	return appendTail(out, tail)
}

// llmReranker batches candidates to the judge model, which scores relevance
// 0-100 per candidate. A candidate the judge fails to score falls back to its
// pre-rerank position score; nothing is dropped silently.
type llmReranker struct {
	generator ports.TextGenerator
	batchSize int
	limiter   *rate.Limiter
}

func (*llmReranker) Name() domain.RerankStrategy { return domain.RerankLLM }

func (r *llmReranker) Rerank(ctx context.Context, query string, _ []float32, candidates []domain.FusedCandidate, topN int) []domain.RerankedCandidate {
	if r.generator == nil {
		return fusedOrderScores(candidates)
	}
	head, tail := splitHead(candidates, topN)
	if len(head) == 0 {
		return fusedOrderScores(candidates)
	}

	positional := make([]float64, len(head))
	for i := range head {
		positional[i] = 1 - float64(i)/float64(len(head))
	}

	scores := make(map[int]float64, len(head))
	for start := 0; start < len(head); start += r.batchSize {
		end := start + r.batchSize
		if end > len(head) {
			end = len(head)
		}
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}
		r.scoreBatch(ctx, query, head[start:end], start, scores)
	}

	out := make([]domain.RerankedCandidate, 0, len(head))
	for i, c := range head {
		score, ok := scores[i]
		if !ok {
			score = positional[i]
		}
		out = append(out, domain.RerankedCandidate{FusedCandidate: c, RerankScore: score})
	}
	sortReranked(out)
	return appendTail(out, tail)
}

func (r *llmReranker) scoreBatch(ctx context.Context, query string, batch []domain.FusedCandidate, offset int, scores map[int]float64) {
	raw, err := r.generator.GenerateJSON(ctx, buildJudgePrompt(query, batch))
	if err != nil {
		slog.Warn("llm_rerank_batch_degraded", "stage", "rerank", "batch_offset", offset, "error", err)
		return
	}

	var parsed struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		slog.Warn("llm_rerank_batch_degraded", "stage", "rerank", "batch_offset", offset, "error", err)
		return
	}
	for i, s := range parsed.Scores {
		if i >= len(batch) {
			break
		}
		if s < 0 {
			s = 0
		}
		if s > 100 {
			s = 100
		}
		scores[offset+i] = s / 100
	}
}

func buildJudgePrompt(query string, batch []domain.FusedCandidate) string {
	var b strings.Builder
	b.WriteString("Score how relevant each passage is to the query, 0 (irrelevant) to 100 (directly answers it). ")
	fmt.Fprintf(&b, "Respond with JSON: {\"scores\": [..]} containing exactly %d numbers, in passage order.\n\n", len(batch))
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, c := range batch {
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, truncateText(c.Text, 1200))
	}
	return b.String()
}

// cohereReranker delegates entirely to the external rerank API; on failure
// the fused order stands unchanged. Reranking is best-effort, never required
// for correctness.
type cohereReranker struct {
	provider ports.RerankProvider
}

func (cohereReranker) Name() domain.RerankStrategy { return domain.RerankCohere }

func (r cohereReranker) Rerank(ctx context.Context, query string, _ []float32, candidates []domain.FusedCandidate, topN int) []domain.RerankedCandidate {
	if r.provider == nil {
		return fusedOrderScores(candidates)
	}
	head, tail := splitHead(candidates, topN)
	if len(head) == 0 {
		return fusedOrderScores(candidates)
	}

	docs := make([]string, len(head))
	for i, c := range head {
		docs[i] = c.Text
	}
	hits, err := r.provider.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		slog.Warn("cohere_rerank_degraded", "stage", "rerank", "error", err)
		return fusedOrderScores(candidates)
	}

	scores := make(map[int]float64, len(hits))
	for _, hit := range hits {
		if hit.Index < 0 || hit.Index >= len(head) {
			continue
		}
		scores[hit.Index] = clamp01(hit.Score)
	}

	out := make([]domain.RerankedCandidate, 0, len(head))
	for i, c := range head {
		score, ok := scores[i]
		if !ok {
			score = 1 - float64(i)/float64(len(head))
		}
		out = append(out, domain.RerankedCandidate{FusedCandidate: c, RerankScore: score})
	}
	sortReranked(out)
	return appendTail(out, tail)
}

// splitHead caps expensive rescoring at topN candidates; the tail keeps its
// fused order behind the head.
func splitHead(candidates []domain.FusedCandidate, topN int) (head, tail []domain.FusedCandidate) {
	if topN <= 0 || topN >= len(candidates) {
		return candidates, nil
	}
	return candidates[:topN], candidates[topN:]
}

func appendTail(out []domain.RerankedCandidate, tail []domain.FusedCandidate) []domain.RerankedCandidate {
	if len(tail) == 0 {
		return out
	}
	floor := 0.0
	if len(out) > 0 {
		floor = out[len(out)-1].RerankScore
	}
	for i, c := range tail {
		score := floor - float64(i+1)*1e-6
		if score < 0 {
			score = 0
		}
		out = append(out, domain.RerankedCandidate{FusedCandidate: c, RerankScore: score})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncateText cuts on a rune boundary so a multi-byte character is never
// split mid-sequence.
func truncateText(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
