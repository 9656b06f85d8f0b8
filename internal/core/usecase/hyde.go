package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

// HyDEResult carries the hypothetical document and its embedding. The stage
// is strictly additive: on failure the orchestrator keeps the plain query
// embedding.
type HyDEResult struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// HyDEExpander asks the generation provider for a plausible answer passage
// and embeds it, so recall benefits from answer-shaped vocabulary.
type HyDEExpander struct {
	generator ports.TextGenerator
	embedder  ports.Embedder
	timeout   time.Duration
}

func NewHyDEExpander(generator ports.TextGenerator, embedder ports.Embedder, timeout time.Duration) *HyDEExpander {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HyDEExpander{generator: generator, embedder: embedder, timeout: timeout}
}

func (h *HyDEExpander) Expand(ctx context.Context, query string) (*HyDEResult, error) {
	if h.generator == nil || h.embedder == nil {
		return nil, domain.WrapError(domain.ErrProvider, "hyde", fmt.Errorf("generation or embedding provider unavailable"))
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	text, err := h.generator.Generate(callCtx, buildHyDEPrompt(query))
	if err != nil {
		return nil, domain.WrapError(domain.ErrProvider, "hyde generate", err)
	}
	if text == "" {
		return nil, domain.WrapError(domain.ErrProvider, "hyde generate", fmt.Errorf("empty hypothetical document"))
	}

	embedding, err := h.embedder.EmbedQuery(callCtx, text)
	if err != nil {
		return nil, domain.WrapError(domain.ErrProvider, "hyde embed", err)
	}
	return &HyDEResult{Text: text, Embedding: embedding}, nil
}

func buildHyDEPrompt(query string) string {
	return fmt.Sprintf(
		"Write a short, factual passage (3-5 sentences) that would plausibly answer the question below. "+
			"Write only the passage, no preamble.\n\nQuestion: %s\n", query)
}

// blendEmbeddings mixes the original query embedding with the hypothetical
// document embedding using the tenant's weights. Weights need not sum to 1;
// they are normalized here. The blend is L2-normalized so downstream cosine
// scoring is unaffected by the mixing. On dimension mismatch the original
// embedding wins.
func blendEmbeddings(original, hypothetical []float32, wOriginal, wHypothetical float64) []float32 {
	if len(hypothetical) == 0 || len(hypothetical) != len(original) {
		return original
	}
	total := wOriginal + wHypothetical
	if total <= 0 {
		return original
	}
	wo := wOriginal / total
	wh := wHypothetical / total

	blended := make([]float32, len(original))
	var norm float64
	for i := range original {
		v := wo*float64(original[i]) + wh*float64(hypothetical[i])
		blended[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return original
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range blended {
		blended[i] *= scale
	}
	return blended
}
