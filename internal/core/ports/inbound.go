package ports

import (
	"context"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// Retriever is the engine's single inbound contract. It always returns a
// RetrievalResult for valid input; degraded providers lower confidence rather
// than fail the call.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// VectorMaintenance exposes operational vector-store actions consumed by
// admin tooling, not by retrieval itself.
type VectorMaintenance interface {
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
	CountByTenant(ctx context.Context, tenantID string) (int64, error)
}
