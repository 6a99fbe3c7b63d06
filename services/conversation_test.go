package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-agent/models"
)

type conversationFixture struct {
	store     *MemoryStore
	deliverer *recordingDeliverer
	notifier  *recordingNotifier
	service   *ConversationService
}

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()
	store := NewMemoryStore()
	saveTenant(t, store, testTenant("shop-a"))

	f := &conversationFixture{
		store:     store,
		deliverer: &recordingDeliverer{},
		notifier:  &recordingNotifier{},
	}
	f.service = NewConversationService(store, store, store, f.deliverer, f.notifier)
	f.service.now = fixedClock(testNow)
	return f
}

func (f *conversationFixture) open(t *testing.T, customerID string) *models.Conversation {
	t.Helper()
	conv, created, err := f.store.GetOrCreate(context.Background(), "shop-a", customerID, "messenger", testNow)
	require.NoError(t, err)
	require.True(t, created)
	return conv
}

func (f *conversationFixture) get(t *testing.T, id string) *models.Conversation {
	t.Helper()
	conv, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	requireModeInvariant(t, conv)
	return conv
}

func TestTakeover_AssignsOperatorAndClearsEscalation(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	conv := f.open(t, "cust-1")

	_, flagged, err := f.service.DetectEscalation(ctx, conv, []string{"refund"}, "I want a REFUND now")
	require.NoError(t, err)
	require.True(t, flagged)
	assert.True(t, f.get(t, conv.ID).EscalationRequested)

	applied, err := f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	assert.True(t, applied)

	got := f.get(t, conv.ID)
	assert.Equal(t, models.ModeHuman, got.Mode)
	assert.Equal(t, "op-1", got.AssignedOperatorID)
	assert.False(t, got.EscalationRequested)
	assert.Equal(t, 1, got.EscalationCount)

	// a second operator cannot steal it
	applied, err = f.service.Takeover(ctx, conv.ID, "op-2")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "op-1", f.get(t, conv.ID).AssignedOperatorID)

	assert.Contains(t, f.notifier.events, EventEscalation)
	assert.Contains(t, f.notifier.events, EventModeChange)
}

func TestRelease_SendsOneHandback(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	conv := f.open(t, "cust-1")

	_, err := f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	applied, err := f.service.Release(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = f.service.Release(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	assert.False(t, applied, "second release is a no-op")

	got := f.get(t, conv.ID)
	assert.Equal(t, models.ModeAI, got.Mode)

	system := messagesBy(t, f.store, conv.ID, models.ProducedBySystem)
	require.Len(t, system, 1)
	assert.Equal(t, models.DefaultHandbackMessage, system[0].Text)
	assert.Equal(t, models.DirectionOutbound, system[0].Direction)
	assert.Equal(t, 1, f.deliverer.count())
}

func TestRelease_WrongOperatorIsNotApplied(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	conv := f.open(t, "cust-1")

	_, err := f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	applied, err := f.service.Release(ctx, conv.ID, "op-2")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.ModeHuman, f.get(t, conv.ID).Mode)
	assert.Empty(t, messagesBy(t, f.store, conv.ID, models.ProducedBySystem))
}

func TestRelease_DeliveryFailureStillReleases(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	f.deliverer.err = errors.New("channel down")

	tenant := testTenant("shop-a")
	tenant.HandbackMessage = "The bot is back."
	saveTenant(t, f.store, tenant)

	conv := f.open(t, "cust-1")
	_, err := f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	applied, err := f.service.Release(ctx, conv.ID, "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.ModeAI, f.get(t, conv.ID).Mode)

	system := messagesBy(t, f.store, conv.ID, models.ProducedBySystem)
	require.Len(t, system, 1)
	assert.Equal(t, "The bot is back.", system[0].Text)
}

func TestPauseResume(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	conv := f.open(t, "cust-1")

	applied, err := f.service.Resume(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, applied, "resume needs paused")

	applied, err = f.service.Pause(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	got := f.get(t, conv.ID)
	assert.Equal(t, models.ModePaused, got.Mode)
	assert.NotNil(t, got.PausedAt)

	// escalation is only raised in ai mode
	_, flagged, err := f.service.DetectEscalation(ctx, got, []string{"refund"}, "refund please")
	require.NoError(t, err)
	assert.False(t, flagged)

	// takeover works from paused
	applied, err = f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = f.service.Pause(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, applied, "pause needs ai")

	_, err = f.service.Release(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	_, err = f.service.Pause(ctx, conv.ID)
	require.NoError(t, err)

	applied, err = f.service.Resume(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, applied)
	got = f.get(t, conv.ID)
	assert.Equal(t, models.ModeAI, got.Mode)
	assert.Nil(t, got.PausedAt)
}

func TestArchive(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	conv := f.open(t, "cust-1")

	_, err := f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	applied, err := f.service.Archive(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, applied, "human conversations cannot be archived")

	_, err = f.service.Release(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	applied, err = f.service.Archive(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	assert.False(t, applied, "archived conversations are closed")

	next, created, err := f.store.GetOrCreate(ctx, "shop-a", "cust-1", "messenger", testNow)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, next.ID)
	assert.Equal(t, models.ModeAI, next.Mode)
}

func TestOperatorReply(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	conv := f.open(t, "cust-1")

	_, err := f.service.OperatorReply(ctx, conv.ID, "op-1", "hello")
	assert.ErrorIs(t, err, ErrNotAssigned)

	_, err = f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	_, err = f.service.OperatorReply(ctx, conv.ID, "op-2", "hello")
	assert.ErrorIs(t, err, ErrNotAssigned)

	_, err = f.service.OperatorReply(ctx, conv.ID, "op-1", "   ")
	assert.ErrorIs(t, err, ErrEmptyReply)

	later := testNow.Add(5 * time.Minute)
	f.service.now = fixedClock(later)
	msg, err := f.service.OperatorReply(ctx, conv.ID, "op-1", " On it! ")
	require.NoError(t, err)
	assert.Equal(t, "On it!", msg.Text)
	assert.Equal(t, models.ProducedByOperator, msg.ProducedBy)
	assert.Equal(t, "op-1", msg.OperatorID)

	assert.Equal(t, later, f.get(t, conv.ID).LastActivityAt)
	assert.Equal(t, 1, f.deliverer.count())
}

func TestDetectEscalation_FlagsOncePerEpisode(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	conv := f.open(t, "cust-1")
	keywords := []string{"refund", "speak to a human"}

	_, flagged, err := f.service.DetectEscalation(ctx, conv, keywords, "hello there")
	require.NoError(t, err)
	assert.False(t, flagged)

	keyword, flagged, err := f.service.DetectEscalation(ctx, conv, keywords, "Can I SPEAK TO A HUMAN?")
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, "speak to a human", keyword)

	// the stale snapshot still says not requested; the store refuses a second flag
	_, flagged, err = f.service.DetectEscalation(ctx, conv, keywords, "refund")
	require.NoError(t, err)
	assert.False(t, flagged)

	got := f.get(t, conv.ID)
	assert.Equal(t, 1, got.EscalationCount)
	assert.Equal(t, `keyword "speak to a human"`, got.EscalationReason)

	// a new episode after a takeover and release
	_, err = f.service.Takeover(ctx, conv.ID, "op-1")
	require.NoError(t, err)
	_, err = f.service.Release(ctx, conv.ID, "op-1")
	require.NoError(t, err)

	_, flagged, err = f.service.DetectEscalation(ctx, f.get(t, conv.ID), keywords, "refund")
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, 2, f.get(t, conv.ID).EscalationCount)
}

func TestGet_TenantScoped(t *testing.T) {
	f := newConversationFixture(t)
	conv := f.open(t, "cust-1")

	got, err := f.service.Get(context.Background(), "shop-a", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	_, err = f.service.Get(context.Background(), "shop-b", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
