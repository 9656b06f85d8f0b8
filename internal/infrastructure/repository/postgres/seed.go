package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tenant seeding: a YAML file declaring tenants, their retrieval settings and
// knowledge bases, applied idempotently at startup. Intended for dev and
// small single-node deployments; production tenants are provisioned through
// the control plane.

type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Settings       map[string]any `yaml:"settings"`
	KnowledgeBases []seedKB       `yaml:"knowledge_bases"`
}

type seedKB struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Default       bool   `yaml:"default"`
	DocumentCount int    `yaml:"document_count"`
}

// SeedFromFile upserts the tenants declared in path. A missing path is not an
// error so deployments without a seed file start clean.
func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, tenant := range seed.Tenants {
		if err := s.upsertTenant(ctx, tenant); err != nil {
			return fmt.Errorf("seed tenant %s: %w", tenant.ID, err)
		}
	}
	return nil
}

func (s *Store) upsertTenant(ctx context.Context, tenant seedTenant) error {
	if tenant.ID == "" {
		return fmt.Errorf("tenant id is empty")
	}
	settings := tenant.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tenants (id, name, settings, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
`, tenant.ID, tenant.Name, settingsJSON, now)
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}

	for _, kb := range tenant.KnowledgeBases {
		_, err = s.db.ExecContext(ctx, `
INSERT INTO knowledge_bases (id, tenant_id, name, description, is_default, document_count, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, id) DO UPDATE SET
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	is_default = EXCLUDED.is_default,
	document_count = EXCLUDED.document_count,
	updated_at = EXCLUDED.updated_at
`, kb.ID, tenant.ID, kb.Name, kb.Description, kb.Default, kb.DocumentCount, now)
		if err != nil {
			return fmt.Errorf("upsert knowledge base %s: %w", kb.ID, err)
		}
	}
	return nil
}
