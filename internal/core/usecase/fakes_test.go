package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

type fakeTenantStore struct {
	scope *domain.TenantScope
	err   error
}

func (s *fakeTenantStore) LoadScope(_ context.Context, tenantID string) (*domain.TenantScope, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.scope == nil || s.scope.TenantID != tenantID {
		return nil, domain.WrapError(domain.ErrTenantNotFound, "load scope", fmt.Errorf("tenant %s", tenantID))
	}
	scope := *s.scope
	return &scope, nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (g *fakeGenerator) Generate(_ context.Context, _ string) (string, error) {
	g.calls++
	return g.response, g.err
}

func (g *fakeGenerator) GenerateJSON(_ context.Context, _ string) (string, error) {
	g.calls++
	return g.response, g.err
}

type fakeVectorSearcher struct {
	hitsByKB map[string][]domain.ScoredChunk
	err      error
	delay    time.Duration
}

func (v *fakeVectorSearcher) Search(ctx context.Context, _, kbID string, _ []float32, _ int) ([]domain.ScoredChunk, error) {
	if v.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.delay):
		}
	}
	if v.err != nil {
		return nil, v.err
	}
	return v.hitsByKB[kbID], nil
}

type fakeLexicalSearcher struct {
	hitsByKB map[string][]domain.ScoredChunk
	err      error
}

func (l *fakeLexicalSearcher) SearchLexical(_ context.Context, _, kbID string, _ []string, _ int) ([]domain.ScoredChunk, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.hitsByKB[kbID], nil
}

type fakeRerankProvider struct {
	hits []ports.RerankHit
	err  error
}

func (r *fakeRerankProvider) Rerank(_ context.Context, _ string, _ []string, _ int) ([]ports.RerankHit, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.hits, nil
}

type fakeChunkReader struct {
	byDocument map[string][]domain.Chunk
	err        error
}

func (c *fakeChunkReader) Neighbors(_ context.Context, _, documentID string, chunkIndex, radius int) ([]domain.Chunk, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]domain.Chunk, 0, 2*radius)
	for _, chunk := range c.byDocument[documentID] {
		if chunk.ChunkIndex == chunkIndex {
			continue
		}
		if chunk.ChunkIndex >= chunkIndex-radius && chunk.ChunkIndex <= chunkIndex+radius {
			out = append(out, chunk)
		}
	}
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	gets    int
	hits    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = value
}

func (c *fakeCache) InvalidateTenant(_ context.Context, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(tenantID) && key[:len(tenantID)] == tenantID {
			delete(c.entries, key)
		}
	}
}

func testScope() *domain.TenantScope {
	return &domain.TenantScope{
		TenantID: "tenant-1",
		Mode:     domain.SelectAuto,
		KnowledgeBases: []domain.KnowledgeBase{
			{ID: "kb-main", Name: "General help center", Default: true, DocumentCount: 12, UpdatedAt: time.Now()},
		},
		VectorTopK:             20,
		BM25TopK:               20,
		RRFK:                   60,
		MMRTake:                10,
		MMRLambda:              1,
		Rerank:                 domain.RerankNone,
		RerankTopN:             10,
		MaxContextChars:        8000,
		MinCitations:           1,
		MinConfidence:          0.1,
		HyDEWeightOriginal:     0.7,
		HyDEWeightHypothetical: 0.3,
	}
}

func chunkOf(doc string, index int, kb, text string, embedding []float32) domain.Chunk {
	return domain.Chunk{
		TenantID:   "tenant-1",
		KBID:       kb,
		DocumentID: doc,
		ChunkIndex: index,
		Title:      doc,
		Text:       text,
		Embedding:  embedding,
	}
}
