package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// kbScore is one knowledge base's selection score with its breakdown kept for
// the debug trace.
type kbScore struct {
	kb           domain.KnowledgeBase
	score        float64
	keywordScore float64
	titleBoost   float64
	locationHit  float64
	recencyBoost float64
}

// selectKnowledgeBases picks the knowledge base(s) to search. Empty KBs are
// never candidates; when nothing scores above zero the tenant's default KB is
// used so a query does not land on an empty index.
func selectKnowledgeBases(scope *domain.TenantScope, query string, now time.Time) ([]domain.KBSelection, []domain.KBSelectionDebug, error) {
	if len(scope.KnowledgeBases) == 0 {
		return nil, nil, domain.WrapError(domain.ErrConfiguration, "kb selection", fmt.Errorf("tenant has no knowledge bases"))
	}

	if scope.Mode == domain.SelectStrict {
		return selectStrict(scope)
	}

	queryTokens := toTokenSet(query)
	queryLower := strings.ToLower(query)

	scored := make([]kbScore, 0, len(scope.KnowledgeBases))
	for _, kb := range scope.KnowledgeBases {
		if kb.DocumentCount == 0 {
			continue
		}
		s := scoreKB(scope, kb, queryTokens, queryLower, now)
		scored = append(scored, s)
	}
	if len(scored) == 0 {
		// Every KB is empty: a valid zero-citation outcome, not an error.
		return nil, nil, nil
	}

	// Default flag acts as a tie-break floor, never as a score.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].kb.Default != scored[j].kb.Default {
			return scored[i].kb.Default
		}
		return scored[i].kb.ID < scored[j].kb.ID
	})

	top := scored[0]
	if top.score <= 0 {
		if def, ok := scope.DefaultKB(); ok && def.DocumentCount > 0 {
			dbg := []domain.KBSelectionDebug{{KBID: def.ID, Boost: 1, Default: true}}
			return []domain.KBSelection{{KBID: def.ID, Boost: 1}}, dbg, nil
		}
		// No default or the default is empty; the best populated KB stands.
	}

	if scope.Mode != domain.SelectMulti {
		dbg := []domain.KBSelectionDebug{debugFor(top, 1)}
		return []domain.KBSelection{{KBID: top.kb.ID, Boost: 1}}, dbg, nil
	}

	threshold := scope.MultiKBThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	factor := scope.MultiKBBoostFactor
	if factor <= 0 {
		factor = 0.5
	}

	selections := make([]domain.KBSelection, 0, len(scored))
	debugs := make([]domain.KBSelectionDebug, 0, len(scored))
	for _, s := range scored {
		if top.score > 0 && s.score < threshold*top.score {
			continue
		}
		boost := 1.0
		if top.score > 0 {
			boost = 1.0 + factor*(s.score/top.score)
		}
		selections = append(selections, domain.KBSelection{KBID: s.kb.ID, Boost: boost})
		debugs = append(debugs, debugFor(s, boost))
	}
	return selections, debugs, nil
}

func selectStrict(scope *domain.TenantScope) ([]domain.KBSelection, []domain.KBSelectionDebug, error) {
	id := scope.PinnedKBID
	if id == "" {
		def, ok := scope.DefaultKB()
		if !ok {
			return nil, nil, domain.WrapError(domain.ErrConfiguration, "kb selection", fmt.Errorf("strict mode without pinned or default kb"))
		}
		id = def.ID
	}
	kb, ok := scope.KB(id)
	if !ok {
		return nil, nil, domain.WrapError(domain.ErrConfiguration, "kb selection", fmt.Errorf("pinned kb %q not found", id))
	}
	dbg := []domain.KBSelectionDebug{{KBID: kb.ID, Boost: 1, Default: kb.Default}}
	return []domain.KBSelection{{KBID: kb.ID, Boost: 1}}, dbg, nil
}

func scoreKB(scope *domain.TenantScope, kb domain.KnowledgeBase, queryTokens map[string]struct{}, queryLower string, now time.Time) kbScore {
	s := kbScore{kb: kb}

	kbTokens := toTokenSet(kb.Name + " " + kb.Description)
	s.keywordScore = tokenOverlap(queryTokens, kbTokens)

	kbTextLower := strings.ToLower(kb.Name + " " + kb.Description)
	for keyword, boost := range scope.TitleBoosts {
		kw := strings.ToLower(keyword)
		if strings.Contains(queryLower, kw) && strings.Contains(kbTextLower, kw) {
			s.titleBoost += boost
		}
	}
	for location, boost := range scope.LocationBoosts {
		loc := strings.ToLower(location)
		if strings.Contains(queryLower, loc) && strings.Contains(kbTextLower, loc) {
			s.locationHit += boost
		}
	}

	if scope.RecencyBoost > 0 && scope.RecencyWindowDays > 0 {
		window := time.Duration(scope.RecencyWindowDays) * 24 * time.Hour
		if !kb.UpdatedAt.IsZero() && now.Sub(kb.UpdatedAt) <= window {
			s.recencyBoost = scope.RecencyBoost
		}
	}

	s.score = s.keywordScore + s.titleBoost + s.locationHit + s.recencyBoost
	return s
}

func debugFor(s kbScore, boost float64) domain.KBSelectionDebug {
	return domain.KBSelectionDebug{
		KBID:         s.kb.ID,
		Score:        s.score,
		Boost:        boost,
		KeywordScore: s.keywordScore,
		TitleBoost:   s.titleBoost,
		LocationHit:  s.locationHit,
		RecencyBoost: s.recencyBoost,
		Default:      s.kb.Default,
	}
}
