package usecase

import (
	"strings"
	"testing"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

func TestStageFingerprintStableAcrossWhitespaceAndCase(t *testing.T) {
	scope := testScope()
	hash := configHash(scope)

	a := stageFingerprint("tenant-1", normalizeQuery("Reset   My PASSWORD"), hash, stageResult)
	b := stageFingerprint("tenant-1", normalizeQuery("reset my password"), hash, stageResult)
	if a != b {
		t.Fatalf("normalized queries must share a fingerprint:\n%s\n%s", a, b)
	}
}

func TestStageFingerprintSensitiveToConfig(t *testing.T) {
	scope := testScope()
	before := stageFingerprint("tenant-1", "q", configHash(scope), stageResult)

	scope.RRFK = 90
	after := stageFingerprint("tenant-1", "q", configHash(scope), stageResult)
	if before == after {
		t.Fatalf("config change must change the fingerprint")
	}
}

func TestStageFingerprintSeparatesStages(t *testing.T) {
	hash := configHash(testScope())
	a := stageFingerprint("tenant-1", "q", hash, stageHyDE)
	b := stageFingerprint("tenant-1", "q", hash, stageHybrid)
	if a == b {
		t.Fatalf("different stages must not collide")
	}
}

func TestStageFingerprintTenantPrefixEnablesInvalidation(t *testing.T) {
	key := stageFingerprint("tenant-1", "q", configHash(testScope()), stageResult)
	if !strings.HasPrefix(key, "tenant-1:") {
		t.Fatalf("key %q not tenant-prefixed", key)
	}
}

func TestHistoryHashDistinguishesConversations(t *testing.T) {
	a := historyHash([]domain.ConversationTurn{{Role: "user", Content: "about billing"}})
	b := historyHash([]domain.ConversationTurn{{Role: "user", Content: "about passwords"}})
	if a == b {
		t.Fatalf("different histories must hash differently")
	}
	if historyHash(nil) != "" {
		t.Fatalf("empty history should hash to the empty string")
	}
}

func TestNormalizeQuery(t *testing.T) {
	if got := normalizeQuery("  How DO  I\treset?  "); got != "how do i reset?" {
		t.Fatalf("normalizeQuery = %q", got)
	}
}
