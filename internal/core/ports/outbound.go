package ports

import (
	"context"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// Embedder builds a dense vector for query-side text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TextGenerator is the external text-generation provider used by HyDE, the
// conversation enhancer and the LLM judge reranker.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// VectorSearcher performs dense similarity search within one knowledge base.
type VectorSearcher interface {
	Search(ctx context.Context, tenantID, kbID string, queryVector []float32, topK int) ([]domain.ScoredChunk, error)
}

// LexicalSearcher performs BM25-style keyword search within one knowledge base.
// Terms arrive already synonym-expanded.
type LexicalSearcher interface {
	SearchLexical(ctx context.Context, tenantID, kbID string, terms []string, topK int) ([]domain.ScoredChunk, error)
}

// RerankProvider is an external rerank API (Cohere or equivalent).
type RerankProvider interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankHit, error)
}

// RerankHit scores one input document by its original index.
type RerankHit struct {
	Index int
	Score float64
}

// TenantStore reads an immutable per-request tenant configuration snapshot.
type TenantStore interface {
	LoadScope(ctx context.Context, tenantID string) (*domain.TenantScope, error)
}

// ChunkReader fetches adjacent chunks for neighbor expansion.
type ChunkReader interface {
	Neighbors(ctx context.Context, tenantID, documentID string, chunkIndex, radius int) ([]domain.Chunk, error)
}

// StageCache memoizes expensive stage outputs under a fingerprint key.
// Implementations are shared and thread-safe; a miss is not an error.
type StageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	InvalidateTenant(ctx context.Context, tenantID string)
}

// ConfigEvents delivers tenant-configuration-change notifications so cached
// stage outputs can be dropped before their TTL expires.
type ConfigEvents interface {
	PublishTenantConfigChanged(ctx context.Context, tenantID string) error
	SubscribeTenantConfigChanged(ctx context.Context, handler func(ctx context.Context, tenantID string) error) error
}
