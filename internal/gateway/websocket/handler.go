package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/logger"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP connections to the single WebSocket endpoint.
type Handler struct {
	hub          *Hub
	writeTimeout time.Duration
	logger       *logger.Logger
}

// NewHandler creates a Handler. writeTimeout bounds every send to a client
// (spec §5); a non-positive value falls back to 10s.
func NewHandler(hub *Hub, writeTimeout time.Duration, log *logger.Logger) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Handler{hub: hub, writeTimeout: writeTimeout, logger: log}
}

// Register wires the WebSocket endpoint onto router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/ws", h.HandleConnection)
}

// HandleConnection upgrades the request and starts the client's read/write
// pumps. It blocks for the life of the connection.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, conn, h.hub, h.writeTimeout, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
