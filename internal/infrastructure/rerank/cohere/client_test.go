package cohere

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

func TestRerankParsesResults(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/rerank" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("missing bearer auth: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"results":[
			{"index":1,"relevance_score":0.97},
			{"index":0,"relevance_score":0.12}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "rerank-v3.5")
	hits, err := client.Rerank(context.Background(), "reset password", []string{"billing text", "reset text"}, 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Index != 1 || hits[0].Score != 0.97 {
		t.Fatalf("hit mismatch: %+v", hits[0])
	}
	if captured["model"] != "rerank-v3.5" || captured["query"] != "reset password" {
		t.Fatalf("request incomplete: %v", captured)
	}
}

func TestRerankRateLimitIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, "k", "")
	_, err := client.Rerank(context.Background(), "q", []string{"a"}, 1)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("429 should be temporary, got %v", err)
	}
}

func TestRerankBadRequestIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid model", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, "k", "")
	_, err := client.Rerank(context.Background(), "q", []string{"a"}, 1)
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("400 should be a provider failure, got %v", err)
	}
}

func TestRerankEmptyDocumentsSkipsRequest(t *testing.T) {
	client := New("http://127.0.0.1:1", "k", "")
	hits, err := client.Rerank(context.Background(), "q", nil, 5)
	if err != nil || hits != nil {
		t.Fatalf("empty documents should no-op, got %v %v", hits, err)
	}
}
