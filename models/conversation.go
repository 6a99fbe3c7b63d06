package models

import (
	"time"
)

// Mode is the actor that currently owns response generation for a conversation.
type Mode string

const (
	ModeAI     Mode = "ai"
	ModeHuman  Mode = "human"
	ModePaused Mode = "paused"
)

// Conversation is one customer's thread with a tenant.
// AssignedOperatorID is set iff Mode is human.
type Conversation struct {
	ID                 string     `bson:"_id" json:"id"`
	TenantID           string     `bson:"tenant_id" json:"tenant_id"`
	CustomerIdentifier string     `bson:"customer_identifier" json:"customer_identifier"`
	Channel            string     `bson:"channel,omitempty" json:"channel,omitempty"` // messenger, instagram, whatsapp
	Mode               Mode       `bson:"mode" json:"mode"`
	AssignedOperatorID string     `bson:"assigned_operator_id,omitempty" json:"assigned_operator_id,omitempty"`
	AssignedAt         *time.Time `bson:"assigned_at,omitempty" json:"assigned_at,omitempty"`

	EscalationRequested bool   `bson:"escalation_requested" json:"escalation_requested"`
	EscalationReason    string `bson:"escalation_reason,omitempty" json:"escalation_reason,omitempty"`
	EscalationCount     int    `bson:"escalation_count" json:"escalation_count"`

	LastActivityAt time.Time  `bson:"last_activity_at" json:"last_activity_at"`
	LastAIReplyAt  *time.Time `bson:"last_ai_reply_at,omitempty" json:"last_ai_reply_at,omitempty"`
	PausedAt       *time.Time `bson:"paused_at,omitempty" json:"paused_at,omitempty"`
	Archived       bool       `bson:"archived" json:"archived"`
	ArchivedAt     *time.Time `bson:"archived_at,omitempty" json:"archived_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
