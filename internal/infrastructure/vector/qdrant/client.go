package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// Client searches a qdrant collection holding one dense ("dense") and one
// sparse ("lexical") named vector per chunk. Points are written by the
// ingestion pipeline; this client only reads and deletes.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

const (
	denseVectorName  = "dense"
	sparseVectorName = "lexical"
)

// Search implements ports.VectorSearcher.
func (c *Client) Search(ctx context.Context, tenantID, kbID string, queryVector []float32, topK int) ([]domain.ScoredChunk, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 20
	}

	reqBody := map[string]any{
		"vector": map[string]any{
			"name":   denseVectorName,
			"vector": queryVector,
		},
		"limit":        topK,
		"with_payload": true,
		"with_vector":  []string{denseVectorName},
		"filter":       scopeFilter(tenantID, kbID),
	}
	return c.searchPoints(ctx, "search", reqBody)
}

// SearchLexical implements ports.LexicalSearcher with the hashed sparse
// BM25-style encoding.
func (c *Client) SearchLexical(ctx context.Context, tenantID, kbID string, terms []string, topK int) ([]domain.ScoredChunk, error) {
	sparse := encodeSparseTerms(terms)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 20
	}

	reqBody := map[string]any{
		"vector": map[string]any{
			"name":   sparseVectorName,
			"vector": sparse,
		},
		"limit":        topK,
		"with_payload": true,
		"filter":       scopeFilter(tenantID, kbID),
	}
	return c.searchPoints(ctx, "lexical search", reqBody)
}

// DeleteByDocument implements ports.VectorMaintenance: drops every chunk of
// one document within the tenant.
func (c *Client) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				matchCondition("tenant_id", tenantID),
				matchCondition("doc_id", documentID),
			},
		},
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	var out json.RawMessage
	if err := c.postJSON(ctx, "delete", url, reqBody, &out); err != nil {
		return err
	}
	return nil
}

// CountByTenant implements ports.VectorMaintenance.
func (c *Client) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	reqBody := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{matchCondition("tenant_id", tenantID)},
		},
		"exact": true,
	}

	url := fmt.Sprintf("%s/collections/%s/points/count", c.baseURL, c.collection)
	var countResp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := c.postJSON(ctx, "count", url, reqBody, &countResp); err != nil {
		return 0, err
	}
	return countResp.Result.Count, nil
}

// EnsureCollection creates the dual-vector collection if it does not exist.
// Called once at startup with the embedding dimensionality.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if already exists (depends on version/config).
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) searchPoints(ctx context.Context, operation string, reqBody map[string]any) ([]domain.ScoredChunk, error) {
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
			Vector  map[string]any `json:"vector"`
		} `json:"result"`
	}
	if err := c.postJSON(ctx, operation, url, reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.ScoredChunk{
			Chunk: domain.Chunk{
				TenantID:   getStringPayload(r.Payload, "tenant_id"),
				KBID:       getStringPayload(r.Payload, "kb_id"),
				DocumentID: getStringPayload(r.Payload, "doc_id"),
				ChunkIndex: getIntPayload(r.Payload, "chunk_index"),
				Title:      getStringPayload(r.Payload, "title"),
				SourceURL:  getStringPayload(r.Payload, "source_url"),
				Text:       getStringPayload(r.Payload, "text"),
				Embedding:  denseVectorOf(r.Vector),
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, operation, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(respBody)); msg != "" {
			return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
		}
		return fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func scopeFilter(tenantID, kbID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			matchCondition("tenant_id", tenantID),
			matchCondition("kb_id", kbID),
		},
	}
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"value": value,
		},
	}
}

func denseVectorOf(vectors map[string]any) []float32 {
	raw, ok := vectors[denseVectorName].([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(f)
}
