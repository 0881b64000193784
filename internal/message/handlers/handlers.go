// Package handlers exposes the message API. Routes are registered both
// under /messages and, for send/inbox, nested under /sessions/{id}/messages
// to match the session-scoped mail endpoint (spec §6).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/message/models"
	"github.com/kandev/maestro/internal/message/service"
)

// Handler contains HTTP handlers for the message API.
type Handler struct {
	service *service.Service
}

// NewHandler creates a message Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// Register wires the message routes onto router, including the
// session-scoped send/inbox endpoints.
func (h *Handler) Register(router gin.IRouter) {
	router.DELETE("/messages/:messageId", h.DeleteMessage)
	router.POST("/sessions/:sessionId/messages", h.SendMessage)
	router.GET("/sessions/:sessionId/messages", h.GetInbox)
}

type sendMessageRequest struct {
	To       string          `json:"to" binding:"required"`
	Body     string          `json:"body" binding:"required"`
	Metadata models.Metadata `json:"metadata"`
}

// SendMessage sends mail from the session in the path to another session.
// POST /sessions/:sessionId/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	msg, err := h.service.Send(c.Request.Context(), c.Param("sessionId"), req.To, req.Body, req.Metadata)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetInbox returns the session's inbox, marking pending messages delivered
// and, if ?markRead=true, delivered messages read.
// GET /sessions/:sessionId/messages?markRead=
func (h *Handler) GetInbox(c *gin.Context) {
	filter := service.InboxFilter{MarkRead: c.Query("markRead") == "true"}
	messages, err := h.service.Inbox(c.Request.Context(), c.Param("sessionId"), filter)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// DeleteMessage removes a message.
// DELETE /messages/:messageId
func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.service.Delete(c.Param("messageId")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeErr(c *gin.Context, err error) {
	status, envelope := apperrors.ToEnvelope(err)
	c.JSON(status, envelope)
}
