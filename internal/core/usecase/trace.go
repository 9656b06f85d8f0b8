package usecase

import (
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// traceBuilder accumulates the debug trace. A nil builder is a no-op, so the
// pipeline stays allocation-free and mutation-free when debug is off.
type traceBuilder struct {
	trace domain.DebugTrace
}

func newTraceBuilder(debug bool) *traceBuilder {
	if !debug {
		return nil
	}
	return &traceBuilder{}
}

func (t *traceBuilder) stage(name string, candidates int, start time.Time) {
	if t == nil {
		return
	}
	t.trace.Stages = append(t.trace.Stages, domain.StageTiming{
		Stage:      name,
		Candidates: candidates,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func (t *traceBuilder) enhanced(q EnhancedQuery) {
	if t == nil {
		return
	}
	t.trace.ContextUsed = q.ContextUsed
	if q.ContextUsed {
		t.trace.EnhancedQuery = q.Query
	}
}

func (t *traceBuilder) hyde(attempted bool, err error) {
	if t == nil {
		return
	}
	t.trace.HyDE.Attempted = attempted
	t.trace.HyDE.Success = attempted && err == nil
	if err != nil {
		t.trace.HyDE.Error = err.Error()
	}
}

func (t *traceBuilder) selections(debugs []domain.KBSelectionDebug) {
	if t == nil {
		return
	}
	t.trace.SelectedKBs = debugs
}

func (t *traceBuilder) degraded(signals []string) {
	if t == nil {
		return
	}
	t.trace.Degraded = append(t.trace.Degraded, signals...)
}

func (t *traceBuilder) cacheHit(stage string) {
	if t == nil {
		return
	}
	t.trace.CacheHits = append(t.trace.CacheHits, stage)
}

func (t *traceBuilder) build() *domain.DebugTrace {
	if t == nil {
		return nil
	}
	out := t.trace
	return &out
}
