package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

// SearchConfig bounds the engine's external calls and cache behavior.
type SearchConfig struct {
	EnhancerTimeout time.Duration
	HyDETimeout     time.Duration
	SearchTimeout   time.Duration
	JudgeBatchSize  int
	JudgeRate       float64
	CacheTTL        time.Duration
}

// SearchService orchestrates the retrieval pipeline: enhance, expand, select,
// retrieve, diversify, expand neighbors, rerank, assemble, gate. Provider
// failures degrade individual stages; only configuration errors abort.
type SearchService struct {
	tenants   ports.TenantStore
	embedder  ports.Embedder
	chunks    ports.ChunkReader
	cache     ports.StageCache
	enhancer  *ConversationEnhancer
	hyde      *HyDEExpander
	hybrid    *HybridRetriever
	rerankers *rerankerSet
	assembler *ContextAssembler

	cacheTTL time.Duration
	single   singleflight.Group
	now      func() time.Time
}

func NewSearchService(
	tenants ports.TenantStore,
	embedder ports.Embedder,
	generator ports.TextGenerator,
	vector ports.VectorSearcher,
	lexical ports.LexicalSearcher,
	rerankProvider ports.RerankProvider,
	chunks ports.ChunkReader,
	cache ports.StageCache,
	cfg SearchConfig,
) *SearchService {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &SearchService{
		tenants:   tenants,
		embedder:  embedder,
		chunks:    chunks,
		cache:     cache,
		enhancer:  NewConversationEnhancer(generator, cfg.EnhancerTimeout),
		hyde:      NewHyDEExpander(generator, embedder, cfg.HyDETimeout),
		hybrid:    NewHybridRetriever(vector, lexical, cfg.SearchTimeout),
		rerankers: newRerankerSet(generator, rerankProvider, cfg.JudgeBatchSize, rate.Limit(cfg.JudgeRate)),
		assembler: NewContextAssembler(nil),
		cacheTTL:  cacheTTL,
		now:       time.Now,
	}
}

// InvalidateTenant drops the tenant's cached stage outputs. Wired to the
// tenant-config-changed event stream by bootstrap.
func (s *SearchService) InvalidateTenant(ctx context.Context, tenantID string) error {
	if s.cache != nil {
		s.cache.InvalidateTenant(ctx, tenantID)
	}
	return nil
}

func (s *SearchService) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	query := strings.TrimSpace(req.Query)
	if tenantID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("tenant_id is required"))
	}
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("query is required"))
	}

	scope, err := s.tenants.LoadScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	cfgHash := configHash(scope)
	resultKey := stageFingerprint(tenantID, normalizeQuery(query), cfgHash, stageResult, historyHash(req.History))

	if !req.Debug {
		if cached, ok := s.cacheGet(ctx, resultKey); ok {
			var out domain.RetrievalResult
			if err := json.Unmarshal(cached, &out); err == nil {
				return &out, nil
			}
		}
	}

	// Identical concurrent requests share one computation; debug requests
	// bypass the group so they always carry a fresh trace.
	if req.Debug {
		return s.retrieve(ctx, scope, query, req, cfgHash, resultKey)
	}
	v, err, _ := s.single.Do(resultKey, func() (any, error) {
		return s.retrieve(ctx, scope, query, req, cfgHash, resultKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.RetrievalResult), nil
}

func (s *SearchService) retrieve(
	ctx context.Context,
	scope *domain.TenantScope,
	query string,
	req domain.RetrievalRequest,
	cfgHash, resultKey string,
) (*domain.RetrievalResult, error) {
	trace := newTraceBuilder(req.Debug)

	// 1. Conversation enhancement (fail-open).
	start := s.now()
	enhanced := s.enhancer.Enhance(ctx, scope, query, req.History)
	trace.enhanced(enhanced)
	trace.stage("enhance", 0, start)
	effectiveQuery := enhanced.Query
	normalized := normalizeQuery(effectiveQuery)

	// 2. Query embedding. On provider failure the lexical signal carries the
	// request alone.
	start = s.now()
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, effectiveQuery)
	if err != nil {
		queryEmbedding = nil
		trace.degraded([]string{"embedding"})
		slog.Warn("query_embedding_degraded", "tenant", scope.TenantID, "stage", "embed", "error", err)
	}
	trace.stage("embed", 0, start)

	// 3. HyDE expansion, strictly additive.
	searchEmbedding := queryEmbedding
	if scope.HyDEEnabled && len(queryEmbedding) > 0 {
		start = s.now()
		hydeRes, hydeErr := s.hydeExpand(ctx, scope, normalized, cfgHash, effectiveQuery, trace)
		trace.hyde(true, hydeErr)
		if hydeErr == nil {
			searchEmbedding = blendEmbeddings(queryEmbedding, hydeRes.Embedding, scope.HyDEWeightOriginal, scope.HyDEWeightHypothetical)
		} else {
			slog.Warn("hyde_degraded", "tenant", scope.TenantID, "stage", "hyde", "error", hydeErr)
		}
		trace.stage("hyde", 0, start)
	}

	// 4. Knowledge base selection.
	selections, selectionDebug, err := selectKnowledgeBases(scope, effectiveQuery, s.now())
	if err != nil {
		return nil, err
	}
	trace.selections(selectionDebug)
	if len(selections) == 0 {
		return s.finishReranked(ctx, scope, effectiveQuery, nil, trace, resultKey, req.Debug), nil
	}

	// 5. Hybrid retrieval across the selected KBs.
	start = s.now()
	fused, degraded := s.hybridRetrieve(ctx, scope, normalized, cfgHash, querySignals{
		text:      effectiveQuery,
		terms:     expandTerms(effectiveQuery, scope.Synonyms),
		embedding: searchEmbedding,
	}, selections, trace)
	trace.degraded(degraded)
	trace.stage("hybrid", len(fused), start)

	// 6. Diversification.
	start = s.now()
	take := scope.MMRTake
	if take <= 0 {
		take = 10
	}
	top := diversifyMMR(fused, take, scope.MMRLambda)
	trace.stage("mmr", len(top), start)

	// 7. Neighbor expansion.
	start = s.now()
	expanded := expandNeighbors(ctx, s.chunks, scope, top, scope.NeighborRadius)
	trace.stage("neighbors", len(expanded), start)

	// 8. Reranking. The query embedding (unblended) is what candidates are
	// compared against; the HyDE blend only widens recall.
	start = s.now()
	reranked := s.rerankers.For(scope.Rerank).Rerank(ctx, effectiveQuery, queryEmbedding, expanded, scope.RerankTopN)
	trace.stage("rerank", len(reranked), start)

	return s.finishReranked(ctx, scope, effectiveQuery, reranked, trace, resultKey, req.Debug), nil
}

func (s *SearchService) finishReranked(
	ctx context.Context,
	scope *domain.TenantScope,
	query string,
	reranked []domain.RerankedCandidate,
	trace *traceBuilder,
	resultKey string,
	debug bool,
) *domain.RetrievalResult {
	start := s.now()
	citations, contextText := s.assembler.Assemble(scope, query, reranked)
	confidence := estimateConfidence(citations)
	trace.stage("assemble", len(citations), start)

	result := &domain.RetrievalResult{
		Citations:  citations,
		Context:    contextText,
		Confidence: confidence,
		Answerable: answerable(scope, citations, confidence),
		Debug:      trace.build(),
	}

	if !debug {
		s.cacheSetJSON(ctx, resultKey, result)
	}
	return result
}

func (s *SearchService) hydeExpand(
	ctx context.Context,
	scope *domain.TenantScope,
	normalized, cfgHash, query string,
	trace *traceBuilder,
) (*HyDEResult, error) {
	key := stageFingerprint(scope.TenantID, normalized, cfgHash, stageHyDE)
	if cached, ok := s.cacheGet(ctx, key); ok {
		var out HyDEResult
		if err := json.Unmarshal(cached, &out); err == nil {
			trace.cacheHit(stageHyDE)
			return &out, nil
		}
	}

	out, err := s.hyde.Expand(ctx, query)
	if err != nil {
		return nil, err
	}
	s.cacheSetJSON(ctx, key, out)
	return out, nil
}

func (s *SearchService) hybridRetrieve(
	ctx context.Context,
	scope *domain.TenantScope,
	normalized, cfgHash string,
	q querySignals,
	selections []domain.KBSelection,
	trace *traceBuilder,
) ([]domain.FusedCandidate, []string) {
	selKey, _ := json.Marshal(selections)
	key := stageFingerprint(scope.TenantID, normalized, cfgHash, stageHybrid, string(selKey), embeddingKey(q.embedding))
	if cached, ok := s.cacheGet(ctx, key); ok {
		var out []domain.FusedCandidate
		if err := json.Unmarshal(cached, &out); err == nil {
			trace.cacheHit(stageHybrid)
			return out, nil
		}
	}

	fused, degraded := s.hybrid.Retrieve(ctx, scope, q, selections)
	// A degraded signal must not be frozen into the cache; the next request
	// should retry the backend.
	if len(degraded) == 0 {
		s.cacheSetJSON(ctx, key, fused)
	}
	return fused, degraded
}

func (s *SearchService) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, key)
}

func (s *SearchService) cacheSetJSON(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	s.cache.Set(ctx, key, raw, s.cacheTTL)
}

// embeddingKey distinguishes the HyDE-blended embedding from the plain one in
// the hybrid fingerprint without hashing the full vector elsewhere.
func embeddingKey(embedding []float32) string {
	if len(embedding) == 0 {
		return "none"
	}
	var sum float64
	for _, v := range embedding {
		sum += float64(v)
	}
	return fmt.Sprintf("%d:%.6f", len(embedding), sum)
}
