package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Dashboard event types
const (
	EventMessage    = "message"
	EventModeChange = "mode_change"
	EventEscalation = "escalation"
)

var ErrConnectionBufferFull = errors.New("connection buffer full")

// Notifier pushes conversation events to operator dashboards of a tenant.
type Notifier interface {
	Publish(tenantID, eventType string, data interface{})
}

// WebSocketManager manages dashboard WebSocket connections per tenant
type WebSocketManager struct {
	// tenant ID -> connection ID -> connection
	connections map[string]map[string]*WebSocketConnection
	mu          sync.RWMutex
	broadcast   chan BroadcastMessage
	now         func() time.Time
}

// WebSocketConnection represents a single operator dashboard connection
type WebSocketConnection struct {
	ID         string
	Conn       *websocket.Conn
	TenantID   string
	OperatorID string
	Send       chan []byte
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	TenantID string
	Type     string
	Data     interface{}
}

// MessagePayload represents the structure of WebSocket messages
type MessagePayload struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// NewWebSocketManager starts the broadcast loop; it runs for the process lifetime.
func NewWebSocketManager() *WebSocketManager {
	m := &WebSocketManager{
		connections: make(map[string]map[string]*WebSocketConnection),
		broadcast:   make(chan BroadcastMessage, 100),
		now:         time.Now,
	}
	go m.handleBroadcast()
	return m
}

// RegisterConnection registers a new WebSocket connection
func (m *WebSocketManager) RegisterConnection(conn *WebSocketConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[conn.TenantID] == nil {
		m.connections[conn.TenantID] = make(map[string]*WebSocketConnection)
	}
	m.connections[conn.TenantID][conn.ID] = conn

	slog.Info("WebSocket connection registered",
		"tenantID", conn.TenantID,
		"operatorID", conn.OperatorID,
		"totalConnections", len(m.connections[conn.TenantID]))
}

// UnregisterConnection removes a WebSocket connection and closes its send channel
func (m *WebSocketManager) UnregisterConnection(tenantID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenantConns, exists := m.connections[tenantID]
	if !exists {
		return
	}
	conn, exists := tenantConns[connID]
	if !exists {
		return
	}
	close(conn.Send)
	delete(tenantConns, connID)

	slog.Info("WebSocket connection unregistered",
		"tenantID", tenantID,
		"operatorID", conn.OperatorID,
		"remainingConnections", len(tenantConns))

	if len(tenantConns) == 0 {
		delete(m.connections, tenantID)
	}
}

// Publish queues an event for every dashboard of the tenant. It never blocks
// the caller; events are dropped when the queue is full.
func (m *WebSocketManager) Publish(tenantID, eventType string, data interface{}) {
	select {
	case m.broadcast <- BroadcastMessage{TenantID: tenantID, Type: eventType, Data: data}:
	default:
		slog.Warn("Dashboard broadcast queue full, dropping event",
			"tenantID", tenantID,
			"type", eventType)
	}
}

func (m *WebSocketManager) handleBroadcast() {
	for message := range m.broadcast {
		jsonData, err := json.Marshal(MessagePayload{
			Type:      message.Type,
			Data:      message.Data,
			Timestamp: m.now().Unix(),
		})
		if err != nil {
			slog.Error("Failed to marshal WebSocket message", "error", err)
			continue
		}
		m.sendToTenant(message.TenantID, jsonData)
	}
}

func (m *WebSocketManager) sendToTenant(tenantID string, data []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conn := range m.connections[tenantID] {
		select {
		case conn.Send <- data:
		default:
			slog.Warn("WebSocket connection buffer full",
				"tenantID", tenantID,
				"operatorID", conn.OperatorID,
				"error", ErrConnectionBufferFull)
		}
	}
}

// GetConnectionCount returns the number of active connections for a tenant
func (m *WebSocketManager) GetConnectionCount(tenantID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.connections[tenantID])
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, string, interface{}) {}
