package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront-agent/models"
)

// CatalogService accepts item content from the import collaborator. It never
// embeds; the indexer picks up whatever the upsert made stale.
type CatalogService struct {
	catalog CatalogStore
	index   SemanticIndex
	now     func() time.Time
}

func NewCatalogService(catalog CatalogStore, index SemanticIndex) *CatalogService {
	return &CatalogService{catalog: catalog, index: index, now: time.Now}
}

// ItemInput is the importable content of a catalog item.
type ItemInput struct {
	ExternalID        string              `json:"external_id"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	Price             float64             `json:"price"`
	Currency          string              `json:"currency"`
	Category          string              `json:"category"`
	VariantAttributes map[string][]string `json:"variant_attributes"`
	Active            *bool               `json:"active"`
}

// Ingest stores an item. Re-importing identical content leaves the stored
// vector current; a real change makes the item stale until re-embedded.
func (s *CatalogService) Ingest(ctx context.Context, tenantID string, in ItemInput) (*models.CatalogItem, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(in.Name) == "" && in.ExternalID == "" {
		return nil, fmt.Errorf("item needs a name or an external id")
	}

	active := true
	if in.Active != nil {
		active = *in.Active
	}

	item := &models.CatalogItem{
		TenantID:          tenantID,
		ExternalID:        in.ExternalID,
		Name:              in.Name,
		Description:       in.Description,
		Price:             in.Price,
		Currency:          in.Currency,
		Category:          in.Category,
		VariantAttributes: in.VariantAttributes,
		Active:            active,
		UpdatedAt:         s.now(),
	}
	item.ContentHash = ContentHash(item)

	stored, err := s.catalog.UpsertItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert catalog item: %w", err)
	}

	if !stored.Active {
		if err := s.index.Remove(ctx, stored.ID); err != nil {
			slog.Warn("Failed to remove inactive item from vector index", "itemID", stored.ID, "error", err)
		}
	}

	slog.Info("Catalog item ingested",
		"tenantID", tenantID,
		"itemID", stored.ID,
		"contentVersion", stored.ContentVersion,
		"stale", stored.IsStale(),
	)
	return stored, nil
}
