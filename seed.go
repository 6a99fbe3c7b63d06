package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"storefront-agent/models"
	"storefront-agent/services"
)

// SeedFile is the start-up data format: tenant configurations, operators with
// their plaintext API keys, and catalog items.
type SeedFile struct {
	Tenants   []models.TenantConfig `json:"tenants"`
	Operators []SeedOperator        `json:"operators"`
	Items     []SeedItem            `json:"items"`
}

type SeedOperator struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	APIKey   string `json:"api_key"` // "<keyID>.<secret>"
}

type SeedItem struct {
	TenantID string `json:"tenant_id"`
	services.ItemInput
}

// seedTenant mirrors TenantConfig but keeps the page token, which the model
// hides from JSON output.
type seedTenant struct {
	models.TenantConfig
	PageAccessToken string `json:"page_access_token"`
}

func loadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var raw struct {
		Tenants   []seedTenant   `json:"tenants"`
		Operators []SeedOperator `json:"operators"`
		Items     []SeedItem     `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seed := &SeedFile{Operators: raw.Operators, Items: raw.Items}
	for _, t := range raw.Tenants {
		tenant := t.TenantConfig
		tenant.PageAccessToken = t.PageAccessToken
		seed.Tenants = append(seed.Tenants, tenant)
	}
	return seed, nil
}

// applySeed is idempotent: tenants are replaced, operators keyed by key id,
// and items deduplicated by external id with content hashing.
func applySeed(ctx context.Context, store services.Store, catalog *services.CatalogService, seed *SeedFile) error {
	now := time.Now()
	for i := range seed.Tenants {
		t := &seed.Tenants[i]
		if t.TenantID == "" {
			return fmt.Errorf("seed tenant %d has no tenant_id", i)
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		if err := store.SaveTenant(ctx, t); err != nil {
			return fmt.Errorf("failed to save tenant %s: %w", t.TenantID, err)
		}
	}

	for _, op := range seed.Operators {
		if _, err := services.SaveOperatorWithKey(ctx, store, op.TenantID, op.Name, op.Email, op.APIKey); err != nil {
			return fmt.Errorf("failed to save operator %s: %w", op.Name, err)
		}
	}

	for _, item := range seed.Items {
		if _, err := catalog.Ingest(ctx, item.TenantID, item.ItemInput); err != nil {
			return fmt.Errorf("failed to ingest item %s: %w", item.Name, err)
		}
	}

	slog.Info("Seed data applied",
		"tenants", len(seed.Tenants),
		"operators", len(seed.Operators),
		"items", len(seed.Items),
	)
	return nil
}
