package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"storefront-agent/services"
)

// WebSocketMessage represents an incoming WebSocket message
type WebSocketMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
}

// WebSocketUpgrade upgrades HTTP connection to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket streams tenant events to an operator dashboard and accepts
// operator replies over the same connection.
func (h *Handler) HandleWebSocket(c *websocket.Conn) {
	tenant, _ := c.Locals("tenant_id").(string)
	operator, _ := c.Locals("operator_id").(string)
	if tenant == "" || operator == "" {
		slog.Error("WebSocket connection without operator")
		c.Close()
		return
	}

	conn := &services.WebSocketConnection{
		ID:         uuid.NewString(),
		Conn:       c,
		TenantID:   tenant,
		OperatorID: operator,
		Send:       make(chan []byte, 256),
	}

	h.WebSockets.RegisterConnection(conn)
	defer h.WebSockets.UnregisterConnection(tenant, conn.ID)

	sendJSON(conn, map[string]interface{}{
		"type":        "connected",
		"operator_id": operator,
	})

	go handleWebSocketSend(conn)
	h.handleWebSocketReceive(conn)
}

// handleWebSocketSend handles sending messages to the WebSocket client
func handleWebSocketSend(conn *services.WebSocketConnection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("Failed to write WebSocket message", "error", err)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocketReceive handles receiving messages from the WebSocket client
func (h *Handler) handleWebSocketReceive(conn *services.WebSocketConnection) {
	conn.Conn.SetReadLimit(512 * 1024)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Error("Failed to parse WebSocket message", "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			sendJSON(conn, map[string]string{"type": "pong"})
		case "send_message":
			h.handleDashboardMessage(conn, msg)
		default:
			slog.Warn("Unknown WebSocket message type",
				"type", msg.Type,
				"tenantID", conn.TenantID)
		}
	}
}

// handleDashboardMessage sends an operator reply typed in the dashboard
func (h *Handler) handleDashboardMessage(conn *services.WebSocketConnection, msg WebSocketMessage) {
	if msg.ConversationID == "" || msg.Text == "" {
		sendWebSocketError(conn, "Missing required fields: conversation_id and text")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := h.Conversations.Get(ctx, conn.TenantID, msg.ConversationID); err != nil {
		sendWebSocketError(conn, "Conversation not found")
		return
	}

	sent, err := h.Conversations.OperatorReply(ctx, msg.ConversationID, conn.OperatorID, msg.Text)
	if err != nil {
		slog.Warn("Dashboard reply rejected", "conversationID", msg.ConversationID, "error", err)
		sendWebSocketError(conn, err.Error())
		return
	}

	sendJSON(conn, map[string]interface{}{
		"type":    "message_sent",
		"message": sent,
	})
}

func sendJSON(conn *services.WebSocketConnection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case conn.Send <- data:
	default:
		slog.Warn("WebSocket connection buffer full", "operatorID", conn.OperatorID)
	}
}

// sendWebSocketError sends an error message to the WebSocket client
func sendWebSocketError(conn *services.WebSocketConnection, errorMessage string) {
	sendJSON(conn, map[string]string{
		"type":  "error",
		"error": errorMessage,
	})
}
