package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSearchScopesFilterToTenantAndKB(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/search" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.91,"payload":{"tenant_id":"tenant-1","kb_id":"kb-main","doc_id":"doc-7","chunk_index":3,"title":"Resets","text":"reset flow"},"vector":{"dense":[0.1,0.2]}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	hits, err := client.Search(context.Background(), "tenant-1", "kb-main", []float32{0.5, 0.5}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	hit := hits[0]
	if hit.DocumentID != "doc-7" || hit.ChunkIndex != 3 || hit.Score != 0.91 {
		t.Fatalf("hit mismatch: %+v", hit)
	}
	if len(hit.Embedding) != 2 {
		t.Fatalf("dense vector not parsed: %v", hit.Embedding)
	}

	raw, _ := json.Marshal(captured["filter"])
	filter := string(raw)
	if !strings.Contains(filter, "tenant_id") || !strings.Contains(filter, "kb_id") {
		t.Fatalf("filter missing tenant/kb scoping: %s", filter)
	}
	vector, _ := captured["vector"].(map[string]any)
	if vector["name"] != "dense" {
		t.Fatalf("dense search must use the dense named vector: %v", vector)
	}
}

func TestSearchLexicalUsesSparseVector(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	_, err := client.SearchLexical(context.Background(), "tenant-1", "kb-main", []string{"reset", "password"}, 10)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}

	vector, _ := captured["vector"].(map[string]any)
	if vector["name"] != "lexical" {
		t.Fatalf("lexical search must use the sparse named vector: %v", vector)
	}
	sparse, _ := vector["vector"].(map[string]any)
	indices, _ := sparse["indices"].([]any)
	if len(indices) != 2 {
		t.Fatalf("expected 2 sparse indices, got %v", sparse)
	}
}

func TestSearchLexicalNoTermsSkipsRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	hits, err := client.SearchLexical(context.Background(), "tenant-1", "kb-main", nil, 10)
	if err != nil || hits != nil {
		t.Fatalf("empty terms should no-op, got hits=%v err=%v", hits, err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("request sent despite empty terms")
	}
}

func TestDeleteByDocumentFiltersTenantAndDoc(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/delete" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	if err := client.DeleteByDocument(context.Background(), "tenant-1", "doc-9"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	raw, _ := json.Marshal(captured)
	if !strings.Contains(string(raw), "doc-9") || !strings.Contains(string(raw), "tenant-1") {
		t.Fatalf("delete filter incomplete: %s", raw)
	}
}

func TestCountByTenant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/chunks/points/count" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"count":42}}`))
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	count, err := client.CountByTenant(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("CountByTenant() error = %v", err)
	}
	if count != 42 {
		t.Fatalf("count = %d, want 42", count)
	}
}

func TestEnsureCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/chunks" {
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	if err := client.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("first EnsureCollection() error = %v", err)
	}
	if err := client.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("second EnsureCollection() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/chunks" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	err := client.EnsureCollection(context.Background(), 768)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}
