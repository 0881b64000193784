// Package handlers exposes the per-session queue API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/queue/service"
)

// Handler contains HTTP handlers for the queue API.
type Handler struct {
	service *service.Service
}

// NewHandler creates a queue Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// Register wires the queue routes onto router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/sessions/:sessionId/queue", h.ListQueue)
	router.POST("/sessions/:sessionId/queue", h.Push)
	router.POST("/sessions/:sessionId/queue/start", h.Start)
	router.POST("/sessions/:sessionId/queue/complete", h.Complete)
	router.POST("/sessions/:sessionId/queue/fail", h.Fail)
	router.POST("/sessions/:sessionId/queue/skip", h.Skip)
}

type pushRequest struct {
	TaskID string `json:"taskId" binding:"required"`
}

// Push appends a task to the session's queue.
// POST /sessions/:sessionId/queue
func (h *Handler) Push(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}
	item, err := h.service.Push(c.Param("sessionId"), req.TaskID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// ListQueue returns the session's ordered queue.
// GET /sessions/:sessionId/queue
func (h *Handler) ListQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.service.List(c.Param("sessionId"))})
}

// Start moves the session's first queued item to processing.
// POST /sessions/:sessionId/queue/start
func (h *Handler) Start(c *gin.Context) {
	item, err := h.service.Start(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type finishRequest struct {
	TaskID string `json:"taskId" binding:"required"`
	Reason string `json:"reason"`
}

// Complete transitions the session's processing item to completed.
// POST /sessions/:sessionId/queue/complete
func (h *Handler) Complete(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}
	item, err := h.service.Complete(c.Request.Context(), c.Param("sessionId"), req.TaskID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Fail transitions the session's processing item to failed.
// POST /sessions/:sessionId/queue/fail
func (h *Handler) Fail(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}
	item, err := h.service.Fail(c.Request.Context(), c.Param("sessionId"), req.TaskID, req.Reason)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// Skip transitions the session's processing item to skipped.
// POST /sessions/:sessionId/queue/skip
func (h *Handler) Skip(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}
	item, err := h.service.Skip(c.Request.Context(), c.Param("sessionId"), req.TaskID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func writeErr(c *gin.Context, err error) {
	status, envelope := apperrors.ToEnvelope(err)
	c.JSON(status, envelope)
}
