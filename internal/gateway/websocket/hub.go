// Package websocket implements the WebSocketBridge (spec §4.5): a single
// endpoint that fans out every bus event to connected clients as a
// {type, event, data, timestamp} envelope, filtered by each client's
// optional session subscription.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
)

// Envelope is the wire shape of every server->client push, the closed
// {type, event, data, timestamp} contract.
type Envelope struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks connected clients and fans out bus events to them. It never
// persists or replays: a client that misses an event while disconnected is
// expected to resync via the REST API.
type Hub struct {
	bus    bus.EventBus
	logger *logger.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool

	sub bus.Subscription
}

// NewHub creates a Hub that has not yet subscribed to the bus; call Run to
// start the event loop and subscription.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		bus:        eventBus,
		logger:     log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run subscribes to every event on the bus and services register/unregister
// requests until ctx is cancelled, at which point every client is closed.
func (h *Hub) Run(ctx context.Context) error {
	sub, err := h.bus.Subscribe(events.AllSubject(), h.handleEvent)
	if err != nil {
		return err
	}
	h.sub = sub

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", zap.String("client_id", c.ID))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closeSend()
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", zap.String("client_id", c.ID))
		case <-ctx.Done():
			h.closeAll()
			return nil
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	if h.sub != nil {
		if err := h.sub.Unsubscribe(); err != nil {
			h.logger.Warn("failed to unsubscribe websocket bridge", zap.Error(err))
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.closeSend()
		delete(h.clients, c)
	}
}

// handleEvent is the EventBus handler invoked for every event on the bus; it
// serializes the envelope once and sends it to every client whose
// subscription filter matches the event's session.
func (h *Hub) handleEvent(_ context.Context, event *bus.Event) error {
	envelope := Envelope{
		Type:      event.Type,
		Event:     event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("failed to marshal websocket envelope", zap.Error(err))
		return nil
	}

	sessionID, scoped := sessionIDFromData(event.Data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(sessionID, scoped) {
			continue
		}
		if !c.sendBytes(payload) {
			h.logger.Warn("dropping websocket message for client with full send buffer", zap.String("client_id", c.ID))
		}
	}
	return nil
}

// sessionIDFromData extracts the "sessionId" field from an event's data map,
// if present. Project/task/team-member events carry no sessionId and are
// delivered to every client regardless of its session filter.
func sessionIDFromData(data map[string]interface{}) (string, bool) {
	v, ok := data["sessionId"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
