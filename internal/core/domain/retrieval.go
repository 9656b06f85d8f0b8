package domain

import "strconv"

// Chunk is an already-ingested, already-embedded text passage. The engine
// never writes chunks; it only retrieves and ranks them.
type Chunk struct {
	TenantID   string    `json:"tenant_id"`
	KBID       string    `json:"kb_id"`
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Title      string    `json:"title,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Key identifies a chunk within its tenant.
func (c Chunk) Key() string {
	return c.DocumentID + ":" + strconv.Itoa(c.ChunkIndex)
}

// ScoredChunk is a raw backend hit from one retrieval signal.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// FusedCandidate carries a chunk through fusion, boosting, diversification
// and neighbor expansion. VectorRank/LexicalRank are 1-indexed; 0 means the
// chunk was absent from that signal.
type FusedCandidate struct {
	Chunk
	VectorScore  float64 `json:"vector_score"`
	LexicalScore float64 `json:"lexical_score"`
	VectorRank   int     `json:"vector_rank"`
	LexicalRank  int     `json:"lexical_rank"`

	FusedScore   float64 `json:"fused_score"`
	KBBoost      float64 `json:"kb_boost"`
	BoostedScore float64 `json:"boosted_score"`

	// Neighbor marks low-weight context appended by the neighbor expander.
	Neighbor bool `json:"neighbor,omitempty"`
}

// RerankedCandidate adds the reranker-assigned score, normalized to [0,1].
type RerankedCandidate struct {
	FusedCandidate
	RerankScore float64 `json:"rerank_score"`
}

// Citation is a single attributed passage returned as retrieval evidence.
// Snippet may be empty when the chunk fell outside the context budget.
type Citation struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Title      string  `json:"title,omitempty"`
	SourceURL  string  `json:"source_url,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score"`
}

// ConversationTurn is one prior exchange supplied by the caller.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrievalRequest is the engine's single inbound operation.
type RetrievalRequest struct {
	TenantID string             `json:"tenant_id"`
	Query    string             `json:"query"`
	History  []ConversationTurn `json:"history,omitempty"`
	Debug    bool               `json:"debug,omitempty"`
}

// RetrievalResult is always returned to the caller: "no good answer" is
// reported via Answerable=false, never via an error.
type RetrievalResult struct {
	Citations  []Citation  `json:"citations"`
	Context    string      `json:"context"`
	Confidence float64     `json:"confidence"`
	Answerable bool        `json:"answerable"`
	Debug      *DebugTrace `json:"debug,omitempty"`
}

// KBSelection is one selected knowledge base with its boost multiplier.
type KBSelection struct {
	KBID  string  `json:"kb_id"`
	Boost float64 `json:"boost"`
}

// DebugTrace is populated only when the caller asks for it; it never alters
// the ranking outcome.
type DebugTrace struct {
	EnhancedQuery string `json:"enhanced_query,omitempty"`
	ContextUsed   bool   `json:"context_used"`

	HyDE struct {
		Attempted bool   `json:"attempted"`
		Success   bool   `json:"success"`
		Error     string `json:"error,omitempty"`
	} `json:"hyde"`

	SelectedKBs []KBSelectionDebug `json:"selected_kbs,omitempty"`
	Stages      []StageTiming      `json:"stages,omitempty"`
	Degraded    []string           `json:"degraded,omitempty"`
	CacheHits   []string           `json:"cache_hits,omitempty"`
}

// KBSelectionDebug records the boost math behind one KB selection.
type KBSelectionDebug struct {
	KBID         string  `json:"kb_id"`
	Score        float64 `json:"score"`
	Boost        float64 `json:"boost"`
	KeywordScore float64 `json:"keyword_score"`
	TitleBoost   float64 `json:"title_boost"`
	LocationHit  float64 `json:"location_hit"`
	RecencyBoost float64 `json:"recency_boost"`
	Default      bool    `json:"default"`
}

// StageTiming is one pipeline stage's candidate count and duration.
type StageTiming struct {
	Stage      string `json:"stage"`
	Candidates int    `json:"candidates"`
	DurationMs int64  `json:"duration_ms"`
}
