package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

func hybridSignals() querySignals {
	return querySignals{
		text:      "reset password",
		terms:     []string{"reset", "password"},
		embedding: []float32{0.1, 0.2},
	}
}

func TestHybridRetrieveFusesBothSignals(t *testing.T) {
	r := NewHybridRetriever(
		&fakeVectorSearcher{hitsByKB: map[string][]domain.ScoredChunk{
			"kb-main": {scoredChunk("doc-a", 0, 0.9), scoredChunk("doc-b", 0, 0.8)},
		}},
		&fakeLexicalSearcher{hitsByKB: map[string][]domain.ScoredChunk{
			"kb-main": {scoredChunk("doc-b", 0, 11.0)},
		}},
		0,
	)

	fused, degraded := r.Retrieve(context.Background(), testScope(), hybridSignals(),
		[]domain.KBSelection{{KBID: "kb-main", Boost: 1}})
	if len(degraded) != 0 {
		t.Fatalf("unexpected degradation: %v", degraded)
	}
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused candidates, got %d", len(fused))
	}
	if fused[0].DocumentID != "doc-b" {
		t.Fatalf("both-signal doc-b should rank first, got %s", fused[0].DocumentID)
	}
}

func TestHybridRetrieveSignalFailureDegrades(t *testing.T) {
	r := NewHybridRetriever(
		&fakeVectorSearcher{err: fmt.Errorf("qdrant unavailable")},
		&fakeLexicalSearcher{hitsByKB: map[string][]domain.ScoredChunk{
			"kb-main": {scoredChunk("doc-a", 0, 9.0)},
		}},
		0,
	)

	fused, degraded := r.Retrieve(context.Background(), testScope(), hybridSignals(),
		[]domain.KBSelection{{KBID: "kb-main", Boost: 1}})
	if len(degraded) != 1 || degraded[0] != "kb-main/vector" {
		t.Fatalf("expected kb-main/vector degraded, got %v", degraded)
	}
	if len(fused) != 1 || fused[0].DocumentID != "doc-a" {
		t.Fatalf("lexical signal should carry the request alone, got %+v", fused)
	}
}

func TestHybridRetrieveTimeoutDegradesSlowSignal(t *testing.T) {
	r := NewHybridRetriever(
		&fakeVectorSearcher{
			hitsByKB: map[string][]domain.ScoredChunk{"kb-main": {scoredChunk("doc-a", 0, 0.9)}},
			delay:    200 * time.Millisecond,
		},
		&fakeLexicalSearcher{hitsByKB: map[string][]domain.ScoredChunk{
			"kb-main": {scoredChunk("doc-b", 0, 5.0)},
		}},
		20*time.Millisecond,
	)

	fused, degraded := r.Retrieve(context.Background(), testScope(), hybridSignals(),
		[]domain.KBSelection{{KBID: "kb-main", Boost: 1}})
	if len(degraded) != 1 || degraded[0] != "kb-main/vector" {
		t.Fatalf("slow vector search should be reported degraded, got %v", degraded)
	}
	if len(fused) != 1 || fused[0].DocumentID != "doc-b" {
		t.Fatalf("expected only the fast signal's results, got %+v", fused)
	}
}

func TestHybridRetrieveAppliesKBBoosts(t *testing.T) {
	r := NewHybridRetriever(
		&fakeVectorSearcher{hitsByKB: map[string][]domain.ScoredChunk{
			"kb-low":  {scoredChunk("doc-low", 0, 0.9)},
			"kb-high": {scoredChunk("doc-high", 0, 0.9)},
		}},
		&fakeLexicalSearcher{hitsByKB: map[string][]domain.ScoredChunk{}},
		0,
	)

	fused, _ := r.Retrieve(context.Background(), testScope(), hybridSignals(),
		[]domain.KBSelection{
			{KBID: "kb-low", Boost: 1.0},
			{KBID: "kb-high", Boost: 1.5},
		})
	if len(fused) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(fused))
	}
	// Same rank in both KBs: the boosted KB wins the merge.
	if fused[0].DocumentID != "doc-high" {
		t.Fatalf("boosted KB should outrank, got %s first", fused[0].DocumentID)
	}
	if fused[0].KBBoost != 1.5 {
		t.Fatalf("boost not recorded: %v", fused[0].KBBoost)
	}
	if fused[0].BoostedScore != fused[0].FusedScore*1.5 {
		t.Fatalf("boosted score %v != fused %v x 1.5", fused[0].BoostedScore, fused[0].FusedScore)
	}
}

func TestHybridRetrieveSkipsVectorWithoutEmbedding(t *testing.T) {
	vec := &fakeVectorSearcher{err: fmt.Errorf("should not be called")}
	r := NewHybridRetriever(vec,
		&fakeLexicalSearcher{hitsByKB: map[string][]domain.ScoredChunk{
			"kb-main": {scoredChunk("doc-a", 0, 3.0)},
		}},
		0,
	)

	q := hybridSignals()
	q.embedding = nil
	fused, degraded := r.Retrieve(context.Background(), testScope(), q,
		[]domain.KBSelection{{KBID: "kb-main", Boost: 1}})
	if len(degraded) != 0 {
		t.Fatalf("vector search without an embedding must be skipped, not degraded: %v", degraded)
	}
	if len(fused) != 1 {
		t.Fatalf("expected lexical-only results, got %d", len(fused))
	}
}
