package domain

import (
	"fmt"
	"strings"
	"time"
)

type SelectionMode string

const (
	SelectAuto   SelectionMode = "auto"
	SelectStrict SelectionMode = "strict"
	SelectMulti  SelectionMode = "multi"
)

type RerankStrategy string

const (
	RerankEmbedding RerankStrategy = "embedding"
	RerankLLM       RerankStrategy = "llm"
	RerankCohere    RerankStrategy = "cohere"
	RerankNone      RerankStrategy = "none"
)

// KnowledgeBase is the engine's read-only view of a tenant knowledge base.
type KnowledgeBase struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Default       bool      `json:"default"`
	DocumentCount int       `json:"document_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TenantScope is the immutable per-request snapshot of tenant configuration.
// It is loaded once at the start of Retrieve and threaded through every stage;
// no stage mutates it.
type TenantScope struct {
	TenantID string        `json:"tenant_id"`
	Mode     SelectionMode `json:"mode"`
	// PinnedKBID overrides scoring in strict mode; empty means the default KB.
	PinnedKBID string `json:"pinned_kb_id,omitempty"`

	KnowledgeBases []KnowledgeBase `json:"knowledge_bases"`

	Synonyms       map[string][]string `json:"synonyms,omitempty"`
	TitleBoosts    map[string]float64  `json:"title_boosts,omitempty"`
	LocationBoosts map[string]float64  `json:"location_boosts,omitempty"`

	RecencyBoost       float64 `json:"recency_boost"`
	RecencyWindowDays  int     `json:"recency_window_days"`
	MultiKBThreshold   float64 `json:"multi_kb_threshold"`
	MultiKBBoostFactor float64 `json:"multi_kb_boost_factor"`

	VectorTopK int `json:"vector_top_k"`
	BM25TopK   int `json:"bm25_top_k"`
	RRFK       int `json:"rrf_k"`

	MMRTake   int     `json:"mmr_take"`
	MMRLambda float64 `json:"mmr_lambda"`

	NeighborRadius int `json:"neighbor_radius"`

	Rerank            RerankStrategy `json:"rerank"`
	RerankTopN        int            `json:"rerank_top_n"`
	LLMJudgeBatchSize int            `json:"llm_judge_batch_size"`

	HyDEEnabled            bool    `json:"hyde_enabled"`
	HyDEWeightOriginal     float64 `json:"hyde_weight_original"`
	HyDEWeightHypothetical float64 `json:"hyde_weight_hypothetical"`

	EnhancerMinTurns int `json:"enhancer_min_turns"`

	MaxContextChars     int    `json:"max_context_chars"`
	CompressIfOverChars int    `json:"compress_if_over_chars"`
	CompressTargetChars int    `json:"compress_target_chars"`
	ContextTemplate     string `json:"context_template,omitempty"`

	MinCitations        int     `json:"min_citations"`
	MinConfidence       float64 `json:"min_confidence"`
	ForceIfHasCitations bool    `json:"force_if_has_citations"`
}

// Validate reports malformed tenant configuration. Unlike provider failures,
// these abort the pipeline: they indicate a setup bug, not a transient
// condition.
func (s *TenantScope) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("tenant id is empty"))
	}
	switch s.Mode {
	case SelectAuto, SelectStrict, SelectMulti:
	default:
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("unknown selection mode %q", s.Mode))
	}
	switch s.Rerank {
	case RerankEmbedding, RerankLLM, RerankCohere, RerankNone:
	default:
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("unknown rerank strategy %q", s.Rerank))
	}
	if s.MMRLambda < 0 || s.MMRLambda > 1 {
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("mmr lambda %v outside [0,1]", s.MMRLambda))
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("min confidence %v outside [0,1]", s.MinConfidence))
	}
	if s.MultiKBThreshold < 0 || s.MultiKBThreshold > 1 {
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("multi kb threshold %v outside [0,1]", s.MultiKBThreshold))
	}
	if s.VectorTopK < 0 || s.BM25TopK < 0 || s.RRFK < 0 || s.MMRTake < 0 ||
		s.NeighborRadius < 0 || s.RerankTopN < 0 || s.MinCitations < 0 {
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("negative size parameter"))
	}
	if s.HyDEEnabled && s.HyDEWeightOriginal+s.HyDEWeightHypothetical <= 0 {
		return WrapError(ErrConfiguration, "tenant scope", fmt.Errorf("hyde weights sum to zero"))
	}
	return nil
}

// DefaultKB returns the tenant's default knowledge base, if any.
func (s *TenantScope) DefaultKB() (KnowledgeBase, bool) {
	for _, kb := range s.KnowledgeBases {
		if kb.Default {
			return kb, true
		}
	}
	return KnowledgeBase{}, false
}

// KB looks up a knowledge base by id.
func (s *TenantScope) KB(id string) (KnowledgeBase, bool) {
	for _, kb := range s.KnowledgeBases {
		if kb.ID == id {
			return kb, true
		}
	}
	return KnowledgeBase{}, false
}
