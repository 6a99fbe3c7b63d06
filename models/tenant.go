package models

import (
	"time"
)

const (
	DefaultTone              = "friendly and professional"
	DefaultMaxResponseLength = 600
	DefaultHistoryTurns      = 10
	DefaultTimezone          = "UTC"
	DefaultHandbackMessage   = "Thanks for your patience! Our assistant is back to help you. Just send a message if you need anything else."
	DefaultEscalationAck     = "Briefly let the customer know that a member of our team has been notified and will join the conversation soon."
)

// TenantConfig is the business configuration that drives prompt assembly,
// escalation and delivery for one tenant.
type TenantConfig struct {
	TenantID     string `bson:"_id" json:"tenant_id"`
	BusinessName string `bson:"business_name" json:"business_name"`
	Language     string `bson:"language,omitempty" json:"language,omitempty"` // e.g., "en", "ka", "ru"
	Active       bool   `bson:"active" json:"active"`

	Tone         string   `bson:"tone,omitempty" json:"tone,omitempty"`
	Instructions string   `bson:"instructions,omitempty" json:"instructions,omitempty"`
	CustomRules  []string `bson:"custom_rules,omitempty" json:"custom_rules,omitempty"`
	FAQs         []FAQ    `bson:"faqs,omitempty" json:"faqs,omitempty"`
	Offers       []string `bson:"offers,omitempty" json:"offers,omitempty"`
	Policies     Policies `bson:"policies" json:"policies"`

	Timezone    string      `bson:"timezone,omitempty" json:"timezone,omitempty"` // IANA name
	WeeklyHours []OpenHours `bson:"weekly_hours,omitempty" json:"weekly_hours,omitempty"`

	ForbiddenTopics    []string `bson:"forbidden_topics,omitempty" json:"forbidden_topics,omitempty"`
	EscalationKeywords []string `bson:"escalation_keywords,omitempty" json:"escalation_keywords,omitempty"`
	MaxResponseLength  int      `bson:"max_response_length,omitempty" json:"max_response_length,omitempty"` // in characters
	HistoryTurns       int      `bson:"history_turns,omitempty" json:"history_turns,omitempty"`
	HandbackMessage    string   `bson:"handback_message,omitempty" json:"handback_message,omitempty"`
	EscalationAck      string   `bson:"escalation_ack,omitempty" json:"escalation_ack,omitempty"`

	// Messenger delivery
	PageID          string `bson:"page_id,omitempty" json:"page_id,omitempty"`
	PageAccessToken string `bson:"page_access_token,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type FAQ struct {
	Question string `bson:"question" json:"question"`
	Answer   string `bson:"answer" json:"answer"`
}

type Policies struct {
	Shipping string `bson:"shipping,omitempty" json:"shipping,omitempty"`
	Returns  string `bson:"returns,omitempty" json:"returns,omitempty"`
	Payment  string `bson:"payment,omitempty" json:"payment,omitempty"`
	Warranty string `bson:"warranty,omitempty" json:"warranty,omitempty"`
}

// OpenHours is one opening window. Close before Open means the window runs past midnight.
type OpenHours struct {
	Weekday time.Weekday `bson:"weekday" json:"weekday"`
	Open    string       `bson:"open" json:"open"`   // "09:00"
	Close   string       `bson:"close" json:"close"` // "18:00"
}

// WithDefaults returns a copy with every absent field set to its default.
func (t TenantConfig) WithDefaults() TenantConfig {
	if t.Tone == "" {
		t.Tone = DefaultTone
	}
	if t.MaxResponseLength <= 0 {
		t.MaxResponseLength = DefaultMaxResponseLength
	}
	if t.HistoryTurns <= 0 {
		t.HistoryTurns = DefaultHistoryTurns
	}
	if t.Timezone == "" {
		t.Timezone = DefaultTimezone
	}
	if t.HandbackMessage == "" {
		t.HandbackMessage = DefaultHandbackMessage
	}
	if t.EscalationAck == "" {
		t.EscalationAck = DefaultEscalationAck
	}
	if t.BusinessName == "" {
		t.BusinessName = t.TenantID
	}
	return t
}
