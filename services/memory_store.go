package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-agent/models"
)

// MemoryStore is a process-local Store. Every method runs under one mutex, so
// Transition has the same single-document atomicity as the Mongo store.
type MemoryStore struct {
	mu              sync.Mutex
	conversations   map[string]*models.Conversation
	messages        map[string][]models.Message
	items           map[string]*models.CatalogItem
	recommendations map[string]*models.RecommendationEvent
	tenants         map[string]*models.TenantConfig
	operators       map[string]*models.Operator
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations:   make(map[string]*models.Conversation),
		messages:        make(map[string][]models.Message),
		items:           make(map[string]*models.CatalogItem),
		recommendations: make(map[string]*models.RecommendationEvent),
		tenants:         make(map[string]*models.TenantConfig),
		operators:       make(map[string]*models.Operator),
	}
}

// Conversations

func (s *MemoryStore) GetOrCreate(ctx context.Context, tenantID, customerID, channel string, now time.Time) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.TenantID == tenantID && c.CustomerIdentifier == customerID && !c.Archived {
			cp := *c
			return &cp, false, nil
		}
	}

	c := &models.Conversation{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		CustomerIdentifier: customerID,
		Channel:            channel,
		Mode:               models.ModeAI,
		LastActivityAt:     now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.conversations[c.ID] = c
	cp := *c
	return &cp, true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Transition(ctx context.Context, cond ModeCondition, change ModeChange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[cond.ConversationID]
	if !ok {
		return false, nil
	}
	if !modeAllowed(c.Mode, cond.From) {
		return false, nil
	}
	if cond.OperatorID != "" && c.AssignedOperatorID != cond.OperatorID {
		return false, nil
	}
	if !cond.IdleBefore.IsZero() && !c.LastActivityAt.Before(cond.IdleBefore) {
		return false, nil
	}
	if cond.NotArchived && c.Archived {
		return false, nil
	}

	at := change.At
	c.Mode = change.To
	c.UpdatedAt = at
	switch change.To {
	case models.ModeHuman:
		c.AssignedOperatorID = change.OperatorID
		c.AssignedAt = &at
		c.EscalationRequested = false
		c.LastActivityAt = at
		c.PausedAt = nil
	case models.ModePaused:
		c.AssignedOperatorID = ""
		c.AssignedAt = nil
		c.PausedAt = &at
	default:
		c.AssignedOperatorID = ""
		c.AssignedAt = nil
		c.PausedAt = nil
	}
	return true, nil
}

func (s *MemoryStore) FlagEscalation(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || c.Mode != models.ModeAI || c.EscalationRequested {
		return false, nil
	}
	c.EscalationRequested = true
	c.EscalationReason = reason
	c.EscalationCount++
	c.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) TouchActivity(ctx context.Context, id string, at time.Time, modes ...models.Mode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || !modeAllowed(c.Mode, modes) {
		return false, nil
	}
	if at.After(c.LastActivityAt) {
		c.LastActivityAt = at
	}
	c.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) ClaimAIReply(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || c.Mode != models.ModeAI || c.Archived {
		return false, nil
	}
	c.LastAIReplyAt = &at
	c.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) Archive(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || c.Archived || c.Mode == models.ModeHuman {
		return false, nil
	}
	c.Archived = true
	c.ArchivedAt = &at
	c.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) ListIdleHuman(ctx context.Context, cutoff time.Time, limit int) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Conversation
	for _, c := range s.conversations {
		if c.Mode == models.ModeHuman && c.LastActivityAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.Before(out[j].LastActivityAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Messages

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]models.Message(nil), s.messages[conversationID]...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *MemoryStore) CountMessages(ctx context.Context, conversationID string, producer models.Producer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages[conversationID] {
		if producer == "" || m.ProducedBy == producer {
			n++
		}
	}
	return n, nil
}

// Catalog

func (s *MemoryStore) UpsertItem(ctx context.Context, item *models.CatalogItem) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.findItem(item)
	now := item.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	if existing == nil {
		stored := *item
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		stored.ContentVersion = 1
		stored.EmbeddedVersion = 0
		stored.EmbeddingVector = nil
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.items[stored.ID] = &stored
		cp := stored
		return &cp, nil
	}

	if !existing.Active && item.Active {
		existing.EmbeddedVersion = 0
	}
	existing.Active = item.Active
	if existing.ContentHash != item.ContentHash {
		existing.Name = item.Name
		existing.Description = item.Description
		existing.Price = item.Price
		existing.Currency = item.Currency
		existing.Category = item.Category
		existing.VariantAttributes = item.VariantAttributes
		existing.ContentHash = item.ContentHash
		existing.ContentVersion++
		existing.UpdatedAt = now
	}
	cp := *existing
	return &cp, nil
}

func (s *MemoryStore) findItem(item *models.CatalogItem) *models.CatalogItem {
	if item.ID != "" {
		if it, ok := s.items[item.ID]; ok {
			return it
		}
	}
	if item.ExternalID == "" {
		return nil
	}
	for _, it := range s.items {
		if it.TenantID == item.TenantID && it.ExternalID == item.ExternalID {
			return it
		}
	}
	return nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) GetItems(ctx context.Context, tenantID string, ids []string) ([]models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CatalogItem
	for _, id := range ids {
		if it, ok := s.items[id]; ok && it.TenantID == tenantID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, limit int) ([]models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CatalogItem
	for _, it := range s.items {
		if it.Active && it.IsStale() {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveEmbedding(ctx context.Context, id string, version int64, text string, vector []float32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if version < it.EmbeddedVersion {
		return nil
	}
	it.EmbeddingText = text
	it.EmbeddingVector = append([]float32(nil), vector...)
	it.EmbeddedVersion = version
	it.EmbeddedAt = at
	it.EmbedAttempts = 0
	it.LastEmbedError = ""
	return nil
}

func (s *MemoryStore) RecordEmbedFailure(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	it.EmbedAttempts++
	it.LastEmbedError = reason
	return nil
}

// Recommendations

func (s *MemoryStore) RecordRecommendation(ctx context.Context, ev *models.RecommendationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	cp := *ev
	s.recommendations[ev.ID] = &cp
	return nil
}

func (s *MemoryStore) MarkClicked(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.recommendations[id]
	if !ok || ev.TenantID != tenantID {
		return false, ErrNotFound
	}
	if ev.Clicked {
		return false, nil
	}
	ev.Clicked = true
	ev.ClickedAt = &at
	return true, nil
}

func (s *MemoryStore) MarkPurchased(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.recommendations[id]
	if !ok || ev.TenantID != tenantID {
		return false, ErrNotFound
	}
	if ev.Purchased {
		return false, nil
	}
	ev.Purchased = true
	ev.PurchasedAt = &at
	return true, nil
}

func (s *MemoryStore) ListRecommendations(ctx context.Context, conversationID string) ([]models.RecommendationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.RecommendationEvent
	for _, ev := range s.recommendations {
		if ev.ConversationID == conversationID {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SurfacedAt.Equal(out[j].SurfacedAt) {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].SurfacedAt.Before(out[j].SurfacedAt)
	})
	return out, nil
}

// Tenants and operators

func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*models.TenantConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTenantByPageID(ctx context.Context, pageID string) (*models.TenantConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.PageID == pageID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (s *MemoryStore) SaveTenant(ctx context.Context, t *models.TenantConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tenants[t.TenantID] = &cp
	return nil
}

func (s *MemoryStore) GetOperatorByKeyID(ctx context.Context, keyID string) (*models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range s.operators {
		if op.KeyID == keyID {
			cp := *op
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SaveOperator(ctx context.Context, op *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	cp := *op
	s.operators[op.ID] = &cp
	return nil
}
