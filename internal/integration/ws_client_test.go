package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors gateway/websocket.Envelope without importing the
// internal package, the way a real UI client only ever sees JSON.
type envelope struct {
	Type      string                 `json:"type"`
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

type wsClient struct {
	conn *websocket.Conn
	t    *testing.T
}

func newWSClient(t *testing.T, serverURL string) *wsClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected upgrade status: %d", resp.StatusCode)
	}
	return &wsClient{conn: conn, t: t}
}

func (c *wsClient) subscribe(sessionIDs []string) {
	c.t.Helper()
	msg := map[string]interface{}{"type": "subscribe"}
	if sessionIDs != nil {
		msg["sessionIds"] = sessionIDs
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("subscribe: %v", err)
	}
}

// next reads the next event envelope, skipping nothing (no pings are sent
// as data frames). Fails the test if none arrives before the deadline.
func (c *wsClient) next(timeout time.Duration) *envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read message: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.t.Fatalf("unmarshal envelope: %v", err)
	}
	return &env
}

func (c *wsClient) close() {
	_ = c.conn.Close()
}
