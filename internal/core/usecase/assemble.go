package usecase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// Compressor shrinks an oversized context toward a target length. The exact
// algorithm is deliberately pluggable; the default is deterministic
// extractive selection.
type Compressor interface {
	Compress(text string, targetChars int, query string) string
}

// ContextAssembler turns reranked candidates into the final citation list and
// a bounded context string.
type ContextAssembler struct {
	compressor Compressor
}

func NewContextAssembler(compressor Compressor) *ContextAssembler {
	if compressor == nil {
		compressor = ExtractiveCompressor{}
	}
	return &ContextAssembler{compressor: compressor}
}

func (a *ContextAssembler) Assemble(scope *domain.TenantScope, query string, candidates []domain.RerankedCandidate) ([]domain.Citation, string) {
	citations := make([]domain.Citation, 0, len(candidates))

	maxChars := scope.MaxContextChars
	if maxChars <= 0 {
		maxChars = 8000
	}

	var b strings.Builder
	full := false
	for _, c := range candidates {
		snippet := ""
		block := formatBlock(c)
		// The budget is a hard cutoff: once a block does not fit, no later
		// (lower-ranked) block may enter the context either.
		if !full && b.Len()+len(block) <= maxChars {
			b.WriteString(block)
			snippet = c.Text
		} else {
			full = true
		}
		// Neighbor chunks are continuity context only, never evidence.
		if c.Neighbor {
			continue
		}
		// Candidates past the budget stay citations with an empty snippet.
		citations = append(citations, domain.Citation{
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Title:      c.Title,
			SourceURL:  c.SourceURL,
			Snippet:    snippet,
			Score:      c.RerankScore,
		})
	}

	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].Score != citations[j].Score {
			return citations[i].Score > citations[j].Score
		}
		return citations[i].DocumentID < citations[j].DocumentID
	})

	context := b.String()
	if scope.CompressIfOverChars > 0 && len(context) > scope.CompressIfOverChars {
		target := scope.CompressTargetChars
		if target <= 0 {
			target = scope.CompressIfOverChars
		}
		context = a.compressor.Compress(context, target, query)
	}

	if scope.ContextTemplate != "" && strings.Contains(scope.ContextTemplate, "{context}") {
		context = strings.ReplaceAll(scope.ContextTemplate, "{context}", context)
	}
	return citations, context
}

func formatBlock(c domain.RerankedCandidate) string {
	source := c.Title
	if source == "" {
		source = c.DocumentID
	}
	if c.SourceURL != "" {
		source = fmt.Sprintf("%s (%s)", source, c.SourceURL)
	}
	return fmt.Sprintf("[Source: %s]\n%s\n\n", source, strings.TrimSpace(c.Text))
}

// ExtractiveCompressor keeps the sentences that overlap the query the most,
// in original order, until the target length is reached. Deterministic for a
// fixed input.
type ExtractiveCompressor struct{}

func (ExtractiveCompressor) Compress(text string, targetChars int, query string) string {
	if targetChars <= 0 || len(text) <= targetChars {
		return text
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return text[:targetChars]
	}

	queryTokens := toTokenSet(query)
	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		ranked[i] = scored{index: i, score: tokenOverlap(queryTokens, toTokenSet(s))}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})

	keep := make(map[int]struct{}, len(sentences))
	budget := targetChars
	for _, r := range ranked {
		length := len(sentences[r.index]) + 1
		if length > budget {
			continue
		}
		keep[r.index] = struct{}{}
		budget -= length
	}

	var b strings.Builder
	for i, s := range sentences {
		if _, ok := keep[i]; !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s)
	}
	if b.Len() == 0 {
		return text[:targetChars]
	}
	return b.String()
}

func splitSentences(text string) []string {
	out := make([]string, 0, 32)
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
