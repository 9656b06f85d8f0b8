package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// Cached stage names. A fingerprint covers every input that affects the
// stage's output, so a hit is behaviorally indistinguishable from
// recomputation.
const (
	stageHyDE   = "hyde"
	stageHybrid = "hybrid"
	stageResult = "result"
)

// configHash folds the whole tenant scope into the fingerprint: any knob
// change invalidates every cached stage for that tenant.
func configHash(scope *domain.TenantScope) string {
	raw, err := json.Marshal(scope)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// stageFingerprint builds the cache key. Keys are tenant-prefixed so the
// invalidation path can drop one tenant's entries wholesale.
func stageFingerprint(tenantID, normalizedQuery, cfgHash, stage string, extra ...string) string {
	h := sha256.New()
	h.Write([]byte(normalizedQuery))
	h.Write([]byte{0})
	h.Write([]byte(cfgHash))
	h.Write([]byte{0})
	h.Write([]byte(stage))
	for _, e := range extra {
		h.Write([]byte{0})
		h.Write([]byte(e))
	}
	return tenantID + ":" + stage + ":" + hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// historyHash makes the result-stage fingerprint sensitive to conversation
// context, which the enhancer may have folded into the effective query.
func historyHash(history []domain.ConversationTurn) string {
	if len(history) == 0 {
		return ""
	}
	h := sha256.New()
	for _, turn := range history {
		h.Write([]byte(turn.Role))
		h.Write([]byte{0})
		h.Write([]byte(turn.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
