package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
	"github.com/struktura-ai/kbsearch/internal/core/ports"
	"github.com/struktura-ai/kbsearch/internal/observability/metrics"
)

// ChunkStore deletes a document's chunk rows during admin document removal.
type ChunkStore interface {
	DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error)
}

// TenantInvalidator drops a tenant's cached stage outputs on this instance.
type TenantInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
}

type Config struct {
	Service          string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

type Router struct {
	searcher    ports.Retriever
	vectors     ports.VectorMaintenance
	chunks      ChunkStore
	invalidator TenantInvalidator
	events      ports.ConfigEvents
	metrics     *metrics.HTTPServerMetrics
	cfg         Config
}

// NewRouter wires the retrieval engine behind the HTTP surface. events may be
// nil when no NATS is configured; invalidation then stays instance-local.
func NewRouter(
	searcher ports.Retriever,
	vectors ports.VectorMaintenance,
	chunks ChunkStore,
	invalidator TenantInvalidator,
	events ports.ConfigEvents,
	m *metrics.HTTPServerMetrics,
	cfg Config,
) *Router {
	if cfg.Service == "" {
		cfg.Service = "api"
	}
	return &Router{
		searcher:    searcher,
		vectors:     vectors,
		chunks:      chunks,
		invalidator: invalidator,
		events:      events,
		metrics:     m,
		cfg:         cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/search", rt.search)
	api.HandleFunc("/v1/admin/documents/", rt.deleteDocument)
	api.HandleFunc("/v1/admin/tenants/", rt.tenantAdmin)

	// Traffic control gates the API surface only; probes and scrapes bypass it.
	var apiHandler http.Handler = api
	apiHandler = backpressureMiddleware(apiHandler, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait)
	apiHandler = rateLimitMiddleware(apiHandler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.Handle("/v1/", apiHandler)

	handler := rt.metrics.Middleware(rt.cfg.Service, mux)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if r.URL.Query().Get("debug") == "true" {
		req.Debug = true
	}

	start := time.Now()
	result, err := rt.searcher.Retrieve(r.Context(), req)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= 500 {
			rt.metrics.RecordSearchError(rt.cfg.Service)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	rt.metrics.RecordSearch(rt.cfg.Service, result.Answerable, len(result.Citations), result.Confidence, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	documentID := strings.TrimPrefix(r.URL.Path, "/v1/admin/documents/")
	if documentID == "" || strings.Contains(documentID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id query parameter is required"})
		return
	}

	if err := rt.vectors.DeleteByDocument(r.Context(), tenantID, documentID); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	deleted, err := rt.chunks.DeleteDocumentChunks(r.Context(), tenantID, documentID)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.invalidateTenant(r.Context(), tenantID)

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":    documentID,
		"tenant_id":      tenantID,
		"chunks_deleted": deleted,
	})
}

func (rt *Router) tenantAdmin(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/tenants/")
	tenantID, action, _ := strings.Cut(rest, "/")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant id is required"})
		return
	}

	switch {
	case action == "stats" && r.Method == http.MethodGet:
		count, err := rt.vectors.CountByTenant(r.Context(), tenantID)
		if err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tenant_id":     tenantID,
			"vector_points": count,
		})
	case action == "invalidate" && r.Method == http.MethodPost:
		rt.invalidateTenant(r.Context(), tenantID)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"tenant_id": tenantID,
			"status":    "invalidated",
		})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tenant action"})
	}
}

// invalidateTenant drops the local cache and fans the change out over the
// event stream so other instances drop theirs. Fan-out failure is logged,
// not surfaced: remote caches expire by TTL anyway.
func (rt *Router) invalidateTenant(ctx context.Context, tenantID string) {
	err := rt.invalidator.InvalidateTenant(ctx, tenantID)
	rt.metrics.RecordInvalidation(rt.cfg.Service, err)
	if err != nil {
		slog.Warn("tenant_invalidate_failed", "tenant", tenantID, "error", err)
	}

	if rt.events == nil {
		return
	}
	if err := rt.events.PublishTenantConfigChanged(ctx, tenantID); err != nil {
		slog.Warn("tenant_invalidate_publish_failed", "tenant", tenantID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
