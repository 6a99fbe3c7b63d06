package models

import (
	"time"
)

// Operator is a human agent who can take over conversations.
type Operator struct {
	ID         string    `bson:"_id" json:"id"`
	TenantID   string    `bson:"tenant_id" json:"tenant_id"`
	Name       string    `bson:"name" json:"name"`
	Email      string    `bson:"email,omitempty" json:"email,omitempty"`
	KeyID      string    `bson:"key_id" json:"key_id"` // public half of the API key, used for lookup
	APIKeyHash string    `bson:"api_key_hash" json:"-"`
	Active     bool      `bson:"active" json:"active"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}
