package usecase

import (
	"context"
	"fmt"
	"testing"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

func rerankInput() []domain.FusedCandidate {
	return []domain.FusedCandidate{
		fusedWithEmbedding("doc-a", 0.9, []float32{1, 0}),
		fusedWithEmbedding("doc-b", 0.7, []float32{0.6, 0.8}),
		fusedWithEmbedding("doc-c", 0.5, []float32{0, 1}),
	}
}

func candidateSet(t *testing.T, in []domain.FusedCandidate, out []domain.RerankedCandidate) {
	t.Helper()
	if len(out) != len(in) {
		t.Fatalf("reranker changed candidate count: %d -> %d", len(in), len(out))
	}
	want := make(map[string]struct{}, len(in))
	for _, c := range in {
		want[c.Key()] = struct{}{}
	}
	for _, c := range out {
		if _, ok := want[c.Key()]; !ok {
			t.Fatalf("reranker introduced candidate %s", c.Key())
		}
		if c.RerankScore < 0 || c.RerankScore > 1 {
			t.Fatalf("rerank score %v outside [0,1] for %s", c.RerankScore, c.Key())
		}
	}
}

func TestEveryDriverPreservesCandidateSet(t *testing.T) {
	set := newRerankerSet(
		&fakeGenerator{response: `{"scores": [80, 20, 50]}`},
		&fakeRerankProvider{hits: []ports.RerankHit{{Index: 0, Score: 0.9}, {Index: 1, Score: 0.1}, {Index: 2, Score: 0.5}}},
		8, rate.Limit(1000),
	)
	query := "reset password"
	queryEmbedding := []float32{1, 0}

	for _, strategy := range []domain.RerankStrategy{
		domain.RerankNone, domain.RerankEmbedding, domain.RerankLLM, domain.RerankCohere,
	} {
		in := rerankInput()
		out := set.For(strategy).Rerank(context.Background(), query, queryEmbedding, in, 10)
		candidateSet(t, in, out)
	}
}

func TestNoneRerankerKeepsFusedOrder(t *testing.T) {
	in := rerankInput()
	out := noneReranker{}.Rerank(context.Background(), "q", nil, in, 10)
	for i := range in {
		if out[i].DocumentID != in[i].DocumentID {
			t.Fatalf("none strategy reordered: position %d is %s, want %s", i, out[i].DocumentID, in[i].DocumentID)
		}
	}
	if out[0].RerankScore != 1 || out[len(out)-1].RerankScore != 0 {
		t.Fatalf("normalized scores = %v..%v, want 1..0", out[0].RerankScore, out[len(out)-1].RerankScore)
	}
}

func TestEmbeddingRerankerOrdersByCosine(t *testing.T) {
	in := rerankInput()
	// Query points at doc-c's embedding, reversing the fused order.
	out := embeddingReranker{}.Rerank(context.Background(), "q", []float32{0, 1}, in, 10)
	if out[0].DocumentID != "doc-c" {
		t.Fatalf("expected doc-c first by cosine, got %s", out[0].DocumentID)
	}
	if out[len(out)-1].DocumentID != "doc-a" {
		t.Fatalf("expected orthogonal doc-a last, got %s", out[len(out)-1].DocumentID)
	}
}

func TestEmbeddingRerankerWithoutQueryEmbeddingFallsBack(t *testing.T) {
	in := rerankInput()
	out := embeddingReranker{}.Rerank(context.Background(), "q", nil, in, 10)
	for i := range in {
		if out[i].DocumentID != in[i].DocumentID {
			t.Fatalf("missing query embedding should keep fused order, position %d = %s", i, out[i].DocumentID)
		}
	}
}

func TestLLMRerankerUsesJudgeScores(t *testing.T) {
	r := &llmReranker{
		generator: &fakeGenerator{response: `{"scores": [10, 95, 40]}`},
		batchSize: 8,
		limiter:   rate.NewLimiter(rate.Limit(1000), 1),
	}
	in := rerankInput()
	out := r.Rerank(context.Background(), "q", nil, in, 10)
	candidateSet(t, in, out)
	if out[0].DocumentID != "doc-b" {
		t.Fatalf("judge scored doc-b highest, got %s first", out[0].DocumentID)
	}
	if out[0].RerankScore != 0.95 {
		t.Fatalf("judge score = %v, want 0.95", out[0].RerankScore)
	}
}

func TestLLMRerankerProviderFailureFallsBackPositionally(t *testing.T) {
	r := &llmReranker{
		generator: &fakeGenerator{err: fmt.Errorf("model overloaded")},
		batchSize: 8,
		limiter:   rate.NewLimiter(rate.Limit(1000), 1),
	}
	in := rerankInput()
	out := r.Rerank(context.Background(), "q", nil, in, 10)
	candidateSet(t, in, out)
	for i := range in {
		if out[i].DocumentID != in[i].DocumentID {
			t.Fatalf("degraded judge should keep positional order, position %d = %s", i, out[i].DocumentID)
		}
	}
}

func TestLLMRerankerClampsOutOfRangeScores(t *testing.T) {
	r := &llmReranker{
		generator: &fakeGenerator{response: `{"scores": [150, -20, 50]}`},
		batchSize: 8,
		limiter:   rate.NewLimiter(rate.Limit(1000), 1),
	}
	out := r.Rerank(context.Background(), "q", nil, rerankInput(), 10)
	if out[0].RerankScore != 1 {
		t.Fatalf("over-range score should clamp to 1, got %v", out[0].RerankScore)
	}
	if out[len(out)-1].RerankScore != 0 {
		t.Fatalf("under-range score should clamp to 0, got %v", out[len(out)-1].RerankScore)
	}
}

func TestCohereRerankerFailureKeepsFusedOrder(t *testing.T) {
	r := cohereReranker{provider: &fakeRerankProvider{err: fmt.Errorf("429 too many requests")}}
	in := rerankInput()
	out := r.Rerank(context.Background(), "q", nil, in, 10)
	candidateSet(t, in, out)
	for i := range in {
		if out[i].DocumentID != in[i].DocumentID {
			t.Fatalf("provider failure should keep fused order, position %d = %s", i, out[i].DocumentID)
		}
	}
}

func TestRerankTopNLimitsRescoringToHead(t *testing.T) {
	in := rerankInput()
	// Only the first candidate is rescored; the tail stays behind it in order.
	out := embeddingReranker{}.Rerank(context.Background(), "q", []float32{0, 1}, in, 1)
	candidateSet(t, in, out)
	if out[0].DocumentID != "doc-a" {
		t.Fatalf("head candidate should stay first, got %s", out[0].DocumentID)
	}
	if out[1].DocumentID != "doc-b" || out[2].DocumentID != "doc-c" {
		t.Fatalf("tail order changed: [%s, %s]", out[1].DocumentID, out[2].DocumentID)
	}
	if out[1].RerankScore <= out[2].RerankScore {
		t.Fatalf("tail scores must be strictly decreasing: %v, %v", out[1].RerankScore, out[2].RerankScore)
	}
}

func TestRerankerSetUnknownStrategyDefaultsToNone(t *testing.T) {
	set := newRerankerSet(nil, nil, 0, 0)
	driver := set.For(domain.RerankStrategy("bogus"))
	if driver.Name() != domain.RerankNone {
		t.Fatalf("unknown strategy should map to none, got %s", driver.Name())
	}
}

func TestTruncateTextKeepsRuneBoundaries(t *testing.T) {
	s := "résumé snippet"

	// A limit of 2 lands inside the two-byte é sequence.
	out := truncateText(s, 2)
	if !utf8.ValidString(out) {
		t.Fatalf("truncation split a rune: %q", out)
	}
	if out != "r" {
		t.Fatalf("expected cut before the split rune, got %q", out)
	}

	if got := truncateText(s, len(s)); got != s {
		t.Fatalf("limit at full length must pass through, got %q", got)
	}
	if got := truncateText("ascii only", 5); got != "ascii" {
		t.Fatalf("ascii truncation changed, got %q", got)
	}
}
