package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/logger"
)

const (
	// pongWait bounds how long the hub waits for a pong before considering a
	// client dead; pingPeriod must stay comfortably under it.
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// subscribeRequest is the one client->server message the bridge understands:
// {type:"subscribe", sessionIds?:[]}. Omitting sessionIds (or sending it as
// null) subscribes to every event; a non-empty list scopes the client to
// those sessions' events plus every non-session-scoped event.
type subscribeRequest struct {
	Type       string   `json:"type"`
	SessionIDs []string `json:"sessionIds"`
}

// Client is a single connected WebSocket peer.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	writeTimeout time.Duration
	logger       *logger.Logger

	mu         sync.RWMutex
	closed     bool
	all        bool
	sessionIDs map[string]bool
}

// NewClient creates a Client subscribed to every event until it sends a
// subscribe filter.
func NewClient(id string, conn *websocket.Conn, hub *Hub, writeTimeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		ID:           id,
		conn:         conn,
		hub:          hub,
		send:         make(chan []byte, 256),
		writeTimeout: writeTimeout,
		logger:       log.WithFields(zap.String("client_id", id)),
		all:          true,
		sessionIDs:   make(map[string]bool),
	}
}

// matches reports whether this client should receive an event. Non-session-
// scoped events (scoped=false) always match; session-scoped events match
// when the client subscribes to everything or names that session.
func (c *Client) matches(sessionID string, scoped bool) bool {
	if !scoped {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return true
	}
	return c.sessionIDs[sessionID]
}

func (c *Client) setFilter(req subscribeRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.SessionIDs == nil {
		c.all = true
		c.sessionIDs = make(map[string]bool)
		return
	}
	c.all = false
	c.sessionIDs = make(map[string]bool, len(req.SessionIDs))
	for _, id := range req.SessionIDs {
		c.sessionIDs[id] = true
	}
}

// sendBytes enqueues a pre-serialized message, dropping it if the client's
// buffer is full or it has already been closed.
func (c *Client) sendBytes(data []byte) bool {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads subscribe requests from the client until the connection
// closes, then unregisters it. The bridge does not accept any other
// client->server action.
func (c *Client) ReadPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("failed to set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.logger.Warn("dropping malformed websocket client message", zap.Error(err))
			continue
		}
		if req.Type != "subscribe" {
			continue
		}
		c.setFilter(req)
	}
}

// WritePump pumps queued messages and pings to the connection, enforcing a
// write timeout per send (spec §5: on timeout the client is closed).
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("failed to close websocket connection", zap.Error(err))
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("failed to set write deadline", zap.Error(err))
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write timed out or failed, closing client", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("failed to set write deadline", zap.Error(err))
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
