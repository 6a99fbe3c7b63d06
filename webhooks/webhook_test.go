package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-agent/config"
	"storefront-agent/models"
	"storefront-agent/services"
)

type recordingInbound struct {
	mu    sync.Mutex
	calls []services.InboundMessage
	err   error
	panic bool
	done  chan struct{}
}

func (r *recordingInbound) HandleInbound(ctx context.Context, in services.InboundMessage) (*services.InboundResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, in)
	r.mu.Unlock()
	if r.done != nil {
		defer func() { r.done <- struct{}{} }()
	}
	if r.panic {
		panic("boom")
	}
	if r.err != nil {
		return nil, r.err
	}
	return &services.InboundResult{ConversationID: "conv-1", Outcome: services.OutcomeReplied}, nil
}

func newProcessor(t *testing.T, inbound InboundHandler, defaultTenant string) *Processor {
	t.Helper()
	store := services.NewMemoryStore()
	require.NoError(t, store.SaveTenant(context.Background(), &models.TenantConfig{
		TenantID: "shop-a",
		PageID:   "page-1",
		Active:   true,
	}))
	return NewProcessor(store, inbound, defaultTenant)
}

func event(pageID string, messages ...Messaging) WebhookEvent {
	return WebhookEvent{Object: "page", Entry: []Entry{{ID: pageID, Messaging: messages}}}
}

func textMessage(sender, text string) Messaging {
	return Messaging{
		Sender:    User{ID: sender},
		Recipient: User{ID: "page-1"},
		Timestamp: 1705320000000,
		Message:   &Message{MID: "m-" + sender, Text: text},
	}
}

func TestProcess_ResolvesTenantByPage(t *testing.T) {
	inbound := &recordingInbound{}
	p := newProcessor(t, inbound, "")

	p.Process(context.Background(), event("page-1", textMessage("cust-1", "do you have blue hats")))

	require.Len(t, inbound.calls, 1)
	got := inbound.calls[0]
	assert.Equal(t, "shop-a", got.TenantID)
	assert.Equal(t, "cust-1", got.CustomerID)
	assert.Equal(t, "messenger", got.Channel)
	assert.Equal(t, "m-cust-1", got.ExternalID)
	assert.True(t, got.Timestamp.Equal(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)))
}

func TestProcess_SkipsEchoesAndEmptyMessages(t *testing.T) {
	inbound := &recordingInbound{}
	p := newProcessor(t, inbound, "")

	echo := textMessage("page-1", "our own reply")
	echo.Message.IsEcho = true
	attachmentOnly := textMessage("cust-2", "  ")
	delivery := Messaging{Sender: User{ID: "cust-3"}}

	p.Process(context.Background(), event("page-1", echo, attachmentOnly, delivery, textMessage("cust-4", "hi")))

	require.Len(t, inbound.calls, 1)
	assert.Equal(t, "cust-4", inbound.calls[0].CustomerID)
}

func TestProcess_UnknownPage(t *testing.T) {
	inbound := &recordingInbound{}
	newProcessor(t, inbound, "").Process(context.Background(), event("page-9", textMessage("cust-1", "hi")))
	assert.Empty(t, inbound.calls)

	newProcessor(t, inbound, "shop-default").Process(context.Background(), event("page-9", textMessage("cust-1", "hi")))
	require.Len(t, inbound.calls, 1)
	assert.Equal(t, "shop-default", inbound.calls[0].TenantID)
}

func TestProcess_OneFailureDoesNotStopOthers(t *testing.T) {
	inbound := &recordingInbound{panic: true}
	p := newProcessor(t, inbound, "")

	assert.NotPanics(t, func() {
		p.Process(context.Background(), event("page-1", textMessage("cust-1", "a"), textMessage("cust-2", "b")))
	})
	assert.Len(t, inbound.calls, 2)

	inbound = &recordingInbound{err: errors.New("store down")}
	newProcessor(t, inbound, "").Process(context.Background(), event("page-1", textMessage("cust-1", "a"), textMessage("cust-2", "b")))
	assert.Len(t, inbound.calls, 2)
}

func TestRoutes(t *testing.T) {
	inbound := &recordingInbound{done: make(chan struct{}, 1)}
	app := fiber.New()
	RegisterRoutes(app, &config.Config{VerifyToken: "secret"}, newProcessor(t, inbound, ""))

	req := httptest.NewRequest(http.MethodGet, "/webhook/?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "42", string(body))

	req = httptest.NewRequest(http.MethodGet, "/webhook/?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	payload := `{"object":"page","entry":[{"id":"page-1","messaging":[{"sender":{"id":"cust-1"},"timestamp":1705320000000,"message":{"mid":"m1","text":"hello"}}]}]}`
	req = httptest.NewRequest(http.MethodPost, "/webhook/", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "EVENT_RECEIVED", string(body))

	select {
	case <-inbound.done:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not processed")
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook/", strings.NewReader(`{"object":"user"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
