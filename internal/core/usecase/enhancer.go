package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
)

const defaultEnhancerMinTurns = 2

// EnhancedQuery is the conversation enhancer's output. When ContextUsed is
// false the Query equals the caller's original query.
type EnhancedQuery struct {
	Query       string `json:"query"`
	Summary     string `json:"summary,omitempty"`
	ContextUsed bool   `json:"context_used"`
}

// ConversationEnhancer rewrites the raw query using prior turns. It fails
// open: any provider problem returns the original query unchanged.
type ConversationEnhancer struct {
	generator ports.TextGenerator
	timeout   time.Duration
}

func NewConversationEnhancer(generator ports.TextGenerator, timeout time.Duration) *ConversationEnhancer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ConversationEnhancer{generator: generator, timeout: timeout}
}

func (e *ConversationEnhancer) Enhance(ctx context.Context, scope *domain.TenantScope, query string, history []domain.ConversationTurn) EnhancedQuery {
	passthrough := EnhancedQuery{Query: query}

	minTurns := scope.EnhancerMinTurns
	if minTurns <= 0 {
		minTurns = defaultEnhancerMinTurns
	}
	turns := exchangeableTurns(history)
	if len(turns) < minTurns {
		return passthrough
	}
	if !historyRelated(query, turns) {
		return passthrough
	}
	if e.generator == nil {
		return passthrough
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.generator.GenerateJSON(callCtx, buildEnhancerPrompt(query, turns))
	if err != nil {
		slog.Warn("conversation_enhancer_degraded", "tenant", scope.TenantID, "stage", "enhance", "error", err)
		return passthrough
	}

	var parsed struct {
		Query   string `json:"query"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		slog.Warn("conversation_enhancer_degraded", "tenant", scope.TenantID, "stage", "enhance", "error", err)
		return passthrough
	}
	enhanced := strings.TrimSpace(parsed.Query)
	if enhanced == "" {
		return passthrough
	}
	return EnhancedQuery{Query: enhanced, Summary: strings.TrimSpace(parsed.Summary), ContextUsed: true}
}

// exchangeableTurns keeps non-empty user/assistant turns, the only ones that
// carry conversational context worth folding into the query.
func exchangeableTurns(history []domain.ConversationTurn) []domain.ConversationTurn {
	out := make([]domain.ConversationTurn, 0, len(history))
	for _, turn := range history {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		out = append(out, turn)
	}
	return out
}

// historyRelated is the cheap local relevance check: at least one query token
// has to appear somewhere in the history before an enhancement call is spent.
func historyRelated(query string, turns []domain.ConversationTurn) bool {
	queryTokens := toTokenSet(query)
	if len(queryTokens) == 0 {
		return false
	}
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(turn.Content)
		b.WriteString(" ")
	}
	return tokenOverlap(queryTokens, toTokenSet(b.String())) > 0
}

func buildEnhancerPrompt(query string, turns []domain.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("Rewrite the user's latest question so it is self-contained, resolving pronouns and references from the conversation below. ")
	b.WriteString("Respond with JSON: {\"query\": \"...\", \"summary\": \"one-sentence conversation summary\"}.\n\nConversation:\n")
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, strings.TrimSpace(turn.Content))
	}
	fmt.Fprintf(&b, "\nLatest question: %s\n", query)
	return b.String()
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
