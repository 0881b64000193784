// Package handlers exposes the task REST API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/task/models"
	"github.com/kandev/maestro/internal/task/service"
)

// Handler contains HTTP handlers for the task API.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates a task Handler.
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// Register wires the task routes onto router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/tasks", h.CreateTask)
	router.GET("/tasks", h.ListTasks)
	router.GET("/tasks/:taskId", h.GetTask)
	router.PATCH("/tasks/:taskId", h.UpdateTask)
	router.DELETE("/tasks/:taskId", h.DeleteTask)
	router.GET("/tasks/:taskId/children", h.GetChildren)
	router.POST("/tasks/:taskId/timeline", h.AppendTimeline)
}

type createTaskRequest struct {
	ProjectID          string   `json:"projectId" binding:"required"`
	ParentID           string   `json:"parentId"`
	Title              string   `json:"title" binding:"required"`
	Description        string   `json:"description"`
	Priority           int      `json:"priority"`
	Dependencies       []string `json:"dependencies"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

// CreateTask creates a new task.
// POST /tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	task, err := h.service.CreateTask(c.Request.Context(), service.CreateTaskInput{
		ProjectID:          req.ProjectID,
		ParentID:           req.ParentID,
		Title:              req.Title,
		Description:        req.Description,
		Priority:           req.Priority,
		Dependencies:       req.Dependencies,
		AcceptanceCriteria: req.AcceptanceCriteria,
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// ListTasks returns tasks for a project, optionally filtered.
// GET /tasks?projectId=&status=&priority=&parentId=
func (h *Handler) ListTasks(c *gin.Context) {
	filter := service.ListFilter{
		ProjectID: c.Query("projectId"),
		Status:    models.Status(c.Query("status")),
	}
	if raw := c.Query("priority"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			filter.Priority = &p
		}
	}
	if raw, ok := c.GetQuery("parentId"); ok {
		filter.ParentID = &raw
	}

	c.JSON(http.StatusOK, gin.H{"tasks": h.service.ListTasks(filter)})
}

// GetTask retrieves a task by id.
// GET /tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.service.GetTask(c.Param("taskId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type updateTaskRequest struct {
	Title         *string               `json:"title"`
	Description   *string               `json:"description"`
	Status        *models.Status        `json:"status"`
	Priority      *int                  `json:"priority"`
	Dependencies  []string              `json:"dependencies"`
	SessionStatus *models.SessionStatus `json:"sessionStatus"`
	UpdateSource  models.UpdateSource   `json:"updateSource"`
	SessionID     string                `json:"sessionId"`
}

// UpdateTask applies a partial update, enforcing update-source rules.
// PATCH /tasks/:taskId
func (h *Handler) UpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	source := req.UpdateSource
	if source == "" {
		source = models.UpdateSourceUser
	}

	task, err := h.service.UpdateTask(c.Request.Context(), c.Param("taskId"), service.UpdatePatch{
		Title:         req.Title,
		Description:   req.Description,
		Status:        req.Status,
		Priority:      req.Priority,
		Dependencies:  req.Dependencies,
		SessionStatus: req.SessionStatus,
	}, source, req.SessionID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask removes a task.
// DELETE /tasks/:taskId
func (h *Handler) DeleteTask(c *gin.Context) {
	if err := h.service.DeleteTask(c.Request.Context(), c.Param("taskId")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetChildren returns tasks whose parentId is the path task.
// GET /tasks/:taskId/children
func (h *Handler) GetChildren(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.service.GetChildren(c.Param("taskId"))})
}

type appendTimelineRequest struct {
	Note         string              `json:"note" binding:"required"`
	UpdateSource models.UpdateSource `json:"updateSource"`
	SessionID    string              `json:"sessionId"`
}

// AppendTimeline appends a free-form note to a task's timeline.
// POST /tasks/:taskId/timeline
func (h *Handler) AppendTimeline(c *gin.Context) {
	var req appendTimelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	source := req.UpdateSource
	if source == "" {
		source = models.UpdateSourceUser
	}

	task, err := h.service.AppendTimelineNote(c.Request.Context(), c.Param("taskId"), req.Note, source, req.SessionID)
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func writeErr(c *gin.Context, err error) {
	status, envelope := apperrors.ToEnvelope(err)
	c.JSON(status, envelope)
}
