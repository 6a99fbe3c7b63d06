package models

import (
	"time"
)

// CatalogItem is a product in a tenant's catalog together with its embedding state.
type CatalogItem struct {
	ID                string              `bson:"_id" json:"id"`
	TenantID          string              `bson:"tenant_id" json:"tenant_id"`
	ExternalID        string              `bson:"external_id,omitempty" json:"external_id,omitempty"` // id in the store platform
	Name              string              `bson:"name" json:"name"`
	Description       string              `bson:"description,omitempty" json:"description,omitempty"`
	Price             float64             `bson:"price" json:"price"`
	Currency          string              `bson:"currency,omitempty" json:"currency,omitempty"`
	Category          string              `bson:"category,omitempty" json:"category,omitempty"`
	VariantAttributes map[string][]string `bson:"variant_attributes,omitempty" json:"variant_attributes,omitempty"`
	Active            bool                `bson:"active" json:"active"`

	// Embedding state, owned by the indexer
	EmbeddingText   string    `bson:"embedding_text,omitempty" json:"embedding_text,omitempty"`
	EmbeddingVector []float32 `bson:"embedding_vector,omitempty" json:"-"`
	EmbeddedAt      time.Time `bson:"embedded_at,omitempty" json:"embedded_at,omitempty"`
	EmbeddedVersion int64     `bson:"embedded_version" json:"embedded_version"`
	EmbedAttempts   int       `bson:"embed_attempts,omitempty" json:"embed_attempts,omitempty"`
	LastEmbedError  string    `bson:"last_embed_error,omitempty" json:"last_embed_error,omitempty"`

	// ContentVersion is bumped on every content mutation
	ContentVersion int64  `bson:"content_version" json:"content_version"`
	ContentHash    string `bson:"content_hash" json:"content_hash"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsStale reports whether the stored vector (if any) predates the current content.
func (i *CatalogItem) IsStale() bool {
	return i.EmbeddedVersion < i.ContentVersion
}

// Retrievable reports whether the item may be surfaced by semantic retrieval.
func (i *CatalogItem) Retrievable() bool {
	return i.Active && !i.IsStale() && len(i.EmbeddingVector) > 0
}
