package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/struktura-ai/kbsearch/internal/core/domain"
)

// Store reads tenant configuration and chunk adjacency. The search path never
// writes; only the seed loader and the admin surface mutate.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent instance startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	settings JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge_bases (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	document_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS chunks (
	tenant_id TEXT NOT NULL,
	kb_id TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	PRIMARY KEY (tenant_id, doc_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_bases_tenant ON knowledge_bases(tenant_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant_doc ON chunks(tenant_id, doc_id, chunk_index);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// LoadScope implements ports.TenantStore. The settings column holds the scope
// knobs as JSON; knowledge bases are joined in from their own table.
func (s *Store) LoadScope(ctx context.Context, tenantID string) (*domain.TenantScope, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT settings FROM tenants WHERE id = $1
`, tenantID)

	var settingsRaw []byte
	if err := row.Scan(&settingsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTenantNotFound, "load scope", fmt.Errorf("tenant %s", tenantID))
		}
		return nil, domain.WrapError(domain.ErrTemporary, "load scope", err)
	}

	scope := &domain.TenantScope{}
	if err := json.Unmarshal(settingsRaw, scope); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "load scope", fmt.Errorf("decode settings: %w", err))
	}
	scope.TenantID = tenantID
	if scope.Mode == "" {
		scope.Mode = domain.SelectAuto
	}
	if scope.Rerank == "" {
		scope.Rerank = domain.RerankNone
	}

	kbs, err := s.loadKnowledgeBases(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	scope.KnowledgeBases = kbs
	return scope, nil
}

func (s *Store) loadKnowledgeBases(ctx context.Context, tenantID string) ([]domain.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, description, is_default, document_count, updated_at
FROM knowledge_bases
WHERE tenant_id = $1
ORDER BY id
`, tenantID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "load knowledge bases", err)
	}
	defer rows.Close()

	out := make([]domain.KnowledgeBase, 0, 4)
	for rows.Next() {
		var kb domain.KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.Default, &kb.DocumentCount, &kb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge base: %w", err)
		}
		out = append(out, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "load knowledge bases", err)
	}
	return out, nil
}

// Neighbors implements ports.ChunkReader: same-document chunks within the
// index window, the seed chunk excluded, in document order.
func (s *Store) Neighbors(ctx context.Context, tenantID, documentID string, chunkIndex, radius int) ([]domain.Chunk, error) {
	if radius <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT kb_id, chunk_index, title, source_url, text
FROM chunks
WHERE tenant_id = $1 AND doc_id = $2
  AND chunk_index BETWEEN $3 AND $4 AND chunk_index <> $5
ORDER BY chunk_index
`, tenantID, documentID, chunkIndex-radius, chunkIndex+radius, chunkIndex)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "load neighbors", err)
	}
	defer rows.Close()

	out := make([]domain.Chunk, 0, 2*radius)
	for rows.Next() {
		chunk := domain.Chunk{TenantID: tenantID, DocumentID: documentID}
		if err := rows.Scan(&chunk.KBID, &chunk.ChunkIndex, &chunk.Title, &chunk.SourceURL, &chunk.Text); err != nil {
			return nil, fmt.Errorf("scan neighbor chunk: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "load neighbors", err)
	}
	return out, nil
}

// DeleteDocumentChunks removes a document's chunk rows after the vector side
// has been purged.
func (s *Store) DeleteDocumentChunks(ctx context.Context, tenantID, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM chunks WHERE tenant_id = $1 AND doc_id = $2
`, tenantID, documentID)
	if err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "delete document chunks", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}
