package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketManager_PublishReachesTenantConnections(t *testing.T) {
	m := NewWebSocketManager()
	mine := &WebSocketConnection{ID: "c1", TenantID: "shop-a", OperatorID: "op-1", Send: make(chan []byte, 4)}
	other := &WebSocketConnection{ID: "c2", TenantID: "shop-b", OperatorID: "op-2", Send: make(chan []byte, 4)}
	m.RegisterConnection(mine)
	m.RegisterConnection(other)
	assert.Equal(t, 1, m.GetConnectionCount("shop-a"))

	m.Publish("shop-a", EventModeChange, ModeChangeEvent{ConversationID: "conv-1", Mode: "human", Kind: "takeover"})

	select {
	case raw := <-mine.Send:
		var payload struct {
			Type string          `json:"type"`
			Data ModeChangeEvent `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, EventModeChange, payload.Type)
		assert.Equal(t, "conv-1", payload.Data.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	select {
	case <-other.Send:
		t.Fatal("event leaked to another tenant")
	case <-time.After(50 * time.Millisecond):
	}

	m.UnregisterConnection("shop-a", "c1")
	assert.Zero(t, m.GetConnectionCount("shop-a"))
	_, ok := <-mine.Send
	assert.False(t, ok, "send channel is closed on unregister")

	// unknown ids are ignored
	m.UnregisterConnection("shop-a", "c1")
}
