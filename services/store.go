package services

import (
	"context"
	"errors"
	"time"

	"storefront-agent/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTenantNotFound = errors.New("tenant not found")
	ErrEmptyQuery     = errors.New("empty query")
)

// ModeCondition is the precondition of a conversation transition. A transition
// applies only if the stored conversation still matches every non-zero field.
type ModeCondition struct {
	ConversationID string
	From           []models.Mode
	OperatorID     string    // expected assigned operator, human mode only
	IdleBefore     time.Time // last_activity_at must be strictly before this
	NotArchived    bool
}

// ModeChange is the target state of a transition. The store keeps the
// operator/mode invariant: entering human mode sets the assignment and clears
// the escalation flag, any other mode clears the assignment.
type ModeChange struct {
	To         models.Mode
	OperatorID string
	At         time.Time
}

type ConversationStore interface {
	// GetOrCreate returns the open (non-archived) conversation for a customer, creating it in ai mode.
	GetOrCreate(ctx context.Context, tenantID, customerID, channel string, now time.Time) (*models.Conversation, bool, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	// Transition applies change iff cond holds. applied=false is not an error.
	Transition(ctx context.Context, cond ModeCondition, change ModeChange) (bool, error)
	// FlagEscalation sets the flag iff mode=ai and no escalation is pending.
	FlagEscalation(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// TouchActivity refreshes last_activity_at when the conversation is in one of modes.
	TouchActivity(ctx context.Context, id string, at time.Time, modes ...models.Mode) (bool, error)
	// ClaimAIReply stamps last_ai_reply_at iff mode is still ai.
	ClaimAIReply(ctx context.Context, id string, at time.Time) (bool, error)
	Archive(ctx context.Context, id string, at time.Time) (bool, error)
	ListIdleHuman(ctx context.Context, cutoff time.Time, limit int) ([]models.Conversation, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	// RecentMessages returns up to limit latest messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	CountMessages(ctx context.Context, conversationID string, producer models.Producer) (int, error)
}

type CatalogStore interface {
	// UpsertItem stores imported content; ContentVersion is bumped only when the content hash changes.
	// Reactivating an inactive item resets EmbeddedVersion so the indexer restores its index entry.
	UpsertItem(ctx context.Context, item *models.CatalogItem) (*models.CatalogItem, error)
	GetItem(ctx context.Context, id string) (*models.CatalogItem, error)
	GetItems(ctx context.Context, tenantID string, ids []string) ([]models.CatalogItem, error)
	ListStale(ctx context.Context, limit int) ([]models.CatalogItem, error)
	SaveEmbedding(ctx context.Context, id string, version int64, text string, vector []float32, at time.Time) error
	RecordEmbedFailure(ctx context.Context, id string, reason string) error
}

type RecommendationStore interface {
	RecordRecommendation(ctx context.Context, ev *models.RecommendationEvent) error
	// MarkClicked and MarkPurchased set their flag once; updated=false if already set.
	MarkClicked(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
	MarkPurchased(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
	ListRecommendations(ctx context.Context, conversationID string) ([]models.RecommendationEvent, error)
}

type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*models.TenantConfig, error)
	GetTenantByPageID(ctx context.Context, pageID string) (*models.TenantConfig, error)
	SaveTenant(ctx context.Context, t *models.TenantConfig) error
}

type OperatorStore interface {
	GetOperatorByKeyID(ctx context.Context, keyID string) (*models.Operator, error)
	SaveOperator(ctx context.Context, op *models.Operator) error
}

// Store bundles every persistence concern the service needs.
type Store interface {
	ConversationStore
	MessageStore
	CatalogStore
	RecommendationStore
	TenantStore
	OperatorStore
}

func modeAllowed(m models.Mode, modes []models.Mode) bool {
	if len(modes) == 0 {
		return true
	}
	for _, allowed := range modes {
		if m == allowed {
			return true
		}
	}
	return false
}
