package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront-agent/models"
)

type fakeCompleter struct {
	mu           sync.Mutex
	reply        string
	err          error
	calls        int
	instructions string
	turns        []Turn
	during       func() // runs while the completion is "in flight"
}

func (f *fakeCompleter) Complete(ctx context.Context, instructions string, turns []Turn) (string, error) {
	f.mu.Lock()
	f.calls++
	f.instructions = instructions
	f.turns = turns
	during := f.during
	f.mu.Unlock()

	if during != nil {
		during()
	}
	return f.reply, f.err
}

type delivery struct {
	ConversationID string
	Text           string
}

type recordingDeliverer struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, conv *models.Conversation, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, delivery{ConversationID: conv.ID, Text: text})
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Publish(tenantID, eventType string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

// fixedClock returns a clock that always reports t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func testTenant(id string) *models.TenantConfig {
	return &models.TenantConfig{
		TenantID:           id,
		BusinessName:       "Hat Shop",
		Active:             true,
		EscalationKeywords: []string{"refund", "speak to a human"},
		ForbiddenTopics:    []string{"politics"},
	}
}

func saveTenant(t *testing.T, store *MemoryStore, tenant *models.TenantConfig) {
	t.Helper()
	require.NoError(t, store.SaveTenant(context.Background(), tenant))
}

func requireModeInvariant(t *testing.T, conv *models.Conversation) {
	t.Helper()
	require.Equal(t, conv.Mode == models.ModeHuman, conv.AssignedOperatorID != "",
		"operator assignment must be set iff mode is human (mode=%s operator=%q)", conv.Mode, conv.AssignedOperatorID)
	if conv.Mode == models.ModeHuman {
		require.False(t, conv.EscalationRequested, "human mode never keeps a pending escalation")
	}
}

func messagesBy(t *testing.T, store *MemoryStore, convID string, producer models.Producer) []models.Message {
	t.Helper()
	all, err := store.RecentMessages(context.Background(), convID, 0)
	require.NoError(t, err)

	var out []models.Message
	for _, m := range all {
		if m.ProducedBy == producer {
			out = append(out, m)
		}
	}
	return out
}

// catalogFixture is a memory-backed catalog with a hashing embedder.
type catalogFixture struct {
	store     *MemoryStore
	index     *MemoryVectorIndex
	embedder  Embedder
	catalog   *CatalogService
	indexer   *Indexer
	retriever *Retriever
}

func newCatalogFixture() *catalogFixture {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	embedder := HashEmbedder{}
	return &catalogFixture{
		store:     store,
		index:     index,
		embedder:  embedder,
		catalog:   NewCatalogService(store, index),
		indexer:   NewIndexer(store, index, embedder, IndexerOptions{}),
		retriever: NewRetriever(embedder, index, store, DefaultRetrievalSettings()),
	}
}

func (f *catalogFixture) ingest(t *testing.T, tenantID string, in ItemInput) *models.CatalogItem {
	t.Helper()
	item, err := f.catalog.Ingest(context.Background(), tenantID, in)
	require.NoError(t, err)
	return item
}

func (f *catalogFixture) reindex(t *testing.T) IndexRunResult {
	t.Helper()
	res, err := f.indexer.RunOnce(context.Background())
	require.NoError(t, err)
	return res
}

func dadHat() ItemInput {
	return ItemInput{
		ExternalID:        "sku-dad-hat",
		Name:              "Dad Hat",
		VariantAttributes: map[string][]string{"color": {"blue", "red"}},
	}
}
