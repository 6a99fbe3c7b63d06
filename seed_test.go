package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-agent/services"
)

const testSeed = `{
  "tenants": [{
    "tenant_id": "shop-a",
    "business_name": "Hat Shop",
    "active": true,
    "page_id": "page-1",
    "page_access_token": "EAAB-token",
    "escalation_keywords": ["refund"]
  }],
  "operators": [{"tenant_id": "shop-a", "name": "Alice", "api_key": "alicekey.s3cret"}],
  "items": [{"tenant_id": "shop-a", "external_id": "sku-1", "name": "Dad Hat", "variant_attributes": {"color": ["blue"]}}]
}`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestApplySeed(t *testing.T) {
	ctx := context.Background()
	seed, err := loadSeedFile(writeSeed(t, testSeed))
	require.NoError(t, err)
	require.Len(t, seed.Tenants, 1)
	assert.Equal(t, "EAAB-token", seed.Tenants[0].PageAccessToken)

	store := services.NewMemoryStore()
	catalog := services.NewCatalogService(store, services.NewMemoryVectorIndex())

	require.NoError(t, applySeed(ctx, store, catalog, seed))
	// applying twice is harmless
	require.NoError(t, applySeed(ctx, store, catalog, seed))

	tenant, err := store.GetTenantByPageID(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "shop-a", tenant.TenantID)
	assert.Equal(t, []string{"refund"}, tenant.EscalationKeywords)

	op, err := services.AuthenticateOperator(ctx, store, "alicekey.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "shop-a", op.TenantID)

	stale, err := store.ListStale(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stale, 1, "re-seeding the same item does not duplicate it")
	assert.Equal(t, int64(1), stale[0].ContentVersion)
}

func TestLoadSeedFile_Errors(t *testing.T) {
	_, err := loadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = loadSeedFile(writeSeed(t, "{not json"))
	assert.Error(t, err)

	seed, err := loadSeedFile(writeSeed(t, `{"tenants":[{"business_name":"no id"}]}`))
	require.NoError(t, err)
	store := services.NewMemoryStore()
	err = applySeed(context.Background(), store, services.NewCatalogService(store, services.NewMemoryVectorIndex()), seed)
	assert.Error(t, err)
}
