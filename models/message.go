package models

import (
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Producer string

const (
	ProducedByCustomer Producer = "customer"
	ProducedByAI       Producer = "ai"
	ProducedByOperator Producer = "operator"
	ProducedBySystem   Producer = "system"
)

// Message represents a chat message. Messages are append-only.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	TenantID       string    `bson:"tenant_id" json:"tenant_id"`
	Direction      Direction `bson:"direction" json:"direction"`
	Text           string    `bson:"text" json:"text"`
	ProducedBy     Producer  `bson:"produced_by" json:"produced_by"`
	OperatorID     string    `bson:"operator_id,omitempty" json:"operator_id,omitempty"`
	ExternalID     string    `bson:"external_id,omitempty" json:"external_id,omitempty"` // channel message id
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}

// RecommendationEvent records a catalog item mentioned in a generated reply.
type RecommendationEvent struct {
	ID             string     `bson:"_id" json:"id"`
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	TenantID       string     `bson:"tenant_id" json:"tenant_id"`
	ItemID         string     `bson:"item_id" json:"item_id"`
	MessageID      string     `bson:"message_id,omitempty" json:"message_id,omitempty"`
	SurfacedAt     time.Time  `bson:"surfaced_at" json:"surfaced_at"`
	Clicked        bool       `bson:"clicked" json:"clicked"`
	ClickedAt      *time.Time `bson:"clicked_at,omitempty" json:"clicked_at,omitempty"`
	Purchased      bool       `bson:"purchased" json:"purchased"`
	PurchasedAt    *time.Time `bson:"purchased_at,omitempty" json:"purchased_at,omitempty"`
}
