// Package websocket provides the WebSocket gateway that streams chat activity
// to browser clients and accepts requests from them.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/common/logger"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

// SessionLifecycle is notified once per client subscription and once per
// removal, so per-session state can be reference counted and discarded when
// the last view closes.
type SessionLifecycle interface {
	Acquire(ctx context.Context, sessionID string) error
	Release(sessionID string)
}

// Hub manages all WebSocket client connections.
type Hub struct {
	clients            map[*Client]bool
	sessionSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *ws.Message
	done       chan struct{}

	dispatcher *ws.Dispatcher
	lifecycle  SessionLifecycle

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:            make(map[*Client]bool),
		sessionSubscribers: make(map[string]map[*Client]bool),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		broadcast:          make(chan *ws.Message, 256),
		done:               make(chan struct{}),
		dispatcher:         dispatcher,
		logger:             log.WithFields(zap.String("component", "ws_hub")),
	}
}

// SetSessionLifecycle installs the hook called on first subscribe and last
// unsubscribe of a session. Must be called before Run.
func (h *Hub) SetSessionLifecycle(l SessionLifecycle) {
	h.lifecycle = l
}

// Run starts the hub's main processing loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	var released []string
	for sessionID, clients := range h.sessionSubscribers {
		for range clients {
			released = append(released, sessionID)
		}
	}
	for client := range h.clients {
		close(client.send)
		close(client.closed)
		delete(h.clients, client)
	}
	h.sessionSubscribers = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	h.release(released)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	var released []string
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		close(client.closed)

		for sessionID := range client.subscriptions {
			if h.dropSubscriberLocked(client, sessionID) {
				released = append(released, sessionID)
			}
		}
	}
	h.mu.Unlock()

	h.release(released)
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// dropSubscriberLocked removes client from the session and reports whether it
// was subscribed.
func (h *Hub) dropSubscriberLocked(client *Client, sessionID string) bool {
	delete(client.subscriptions, sessionID)
	clients, ok := h.sessionSubscribers[sessionID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.sessionSubscribers, sessionID)
	}
	return true
}

func (h *Hub) release(sessionIDs []string) {
	if h.lifecycle == nil {
		return
	}
	for _, sessionID := range sessionIDs {
		h.lifecycle.Release(sessionID)
	}
}

func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.enqueue(data)
	}
}

// Register adds a client to the hub. Returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a notification to all connected clients.
func (h *Hub) Broadcast(msg *ws.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// BroadcastToSession sends a notification to clients subscribed to a session.
func (h *Hub) BroadcastToSession(sessionID string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.sessionSubscribers[sessionID] {
		client.enqueue(data)
	}
}

// SubscribeToSession subscribes a client to session notifications.
// Subscribing twice is a no-op.
func (h *Hub) SubscribeToSession(ctx context.Context, client *Client, sessionID string) error {
	h.mu.RLock()
	already := h.sessionSubscribers[sessionID][client]
	h.mu.RUnlock()
	if already {
		return nil
	}

	if h.lifecycle != nil {
		if err := h.lifecycle.Acquire(ctx, sessionID); err != nil {
			return err
		}
	}

	h.mu.Lock()
	if _, ok := h.sessionSubscribers[sessionID]; !ok {
		h.sessionSubscribers[sessionID] = make(map[*Client]bool)
	}
	h.sessionSubscribers[sessionID][client] = true
	client.subscriptions[sessionID] = true
	h.mu.Unlock()

	h.logger.Debug("Client subscribed to session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
	return nil
}

// UnsubscribeFromSession unsubscribes a client from session notifications.
func (h *Hub) UnsubscribeFromSession(client *Client, sessionID string) {
	h.mu.Lock()
	removed := h.dropSubscriberLocked(client, sessionID)
	h.mu.Unlock()

	if removed {
		h.release([]string{sessionID})
	}
	h.logger.Debug("Client unsubscribed from session",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients watching a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessionSubscribers[sessionID])
}
