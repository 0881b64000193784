// Package handlers exposes the session REST API, including the spawn
// endpoint that drives the SpawnCoordinator.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/session/models"
	"github.com/kandev/maestro/internal/session/service"
	"github.com/kandev/maestro/internal/session/spawn"
)

// Handler contains HTTP handlers for the session API.
type Handler struct {
	service      *service.Service
	spawner      *spawn.Coordinator
	logger       *logger.Logger
	spawnTimeout time.Duration
}

// NewHandler creates a session Handler. spawnTimeout bounds how long
// POST /sessions/spawn waits before failing the session and returning a
// timeout error (default 30s per spec §4.3).
func NewHandler(svc *service.Service, spawner *spawn.Coordinator, log *logger.Logger, spawnTimeout time.Duration) *Handler {
	if spawnTimeout <= 0 {
		spawnTimeout = 30 * time.Second
	}
	return &Handler{service: svc, spawner: spawner, logger: log, spawnTimeout: spawnTimeout}
}

// Register wires the session routes onto router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/sessions", h.CreateSession)
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:sessionId", h.GetSession)
	router.PATCH("/sessions/:sessionId", h.UpdateSession)
	router.DELETE("/sessions/:sessionId", h.DeleteSession)
	router.POST("/sessions/spawn", h.SpawnSession)
	router.POST("/sessions/:sessionId/events", h.ReportEvent)
	router.POST("/sessions/:sessionId/timeline", h.AppendTimeline)
}

type createSessionRequest struct {
	ProjectID string      `json:"projectId" binding:"required"`
	TaskIDs   []string    `json:"taskIds"`
	Name      string      `json:"name"`
	Mode      models.Mode `json:"mode"`
}

// CreateSession creates a plain session record without spawning an agent.
// POST /sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), service.CreateInput{
		ProjectID: req.ProjectID,
		TaskIDs:   req.TaskIDs,
		Name:      req.Name,
		Mode:      req.Mode,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions returns every session for a project, or every session if
// projectId is omitted.
// GET /sessions?projectId=
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.service.ListSessions(c.Query("projectId"))})
}

// GetSession retrieves a session by id, clearing any outstanding
// needs-input flag (the viewer opening the session clears it per §4.3).
// GET /sessions/:sessionId
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	session, err := h.service.ClearNeedsInput(c.Request.Context(), sessionID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type updateSessionRequest struct {
	Status   *models.Status `json:"status"`
	Question *string        `json:"needsInputQuestion"`
}

// UpdateSession applies a status transition or needs-input report.
// PATCH /sessions/:sessionId
func (h *Handler) UpdateSession(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	sessionID := c.Param("sessionId")
	if req.Question != nil {
		session, err := h.service.ReportNeedsInput(c.Request.Context(), sessionID, *req.Question)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
		return
	}
	if req.Status != nil {
		session, err := h.service.UpdateStatus(c.Request.Context(), sessionID, *req.Status)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
		return
	}

	session, err := h.service.GetSession(sessionID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// DeleteSession removes a session.
// DELETE /sessions/:sessionId
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.service.DeleteSession(c.Request.Context(), c.Param("sessionId")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type spawnSessionRequest struct {
	ProjectID       string        `json:"projectId" binding:"required"`
	TaskIDs         []string      `json:"taskIds"`
	Name            string        `json:"name"`
	Mode            models.Mode   `json:"mode" binding:"required"`
	TeamMemberID    string        `json:"teamMemberId"`
	Model           string        `json:"model"`
	AgentTool       string        `json:"agentTool"`
	AllowedCommands []string      `json:"allowedCommands"`
	Source          models.Source `json:"source"`
}

// SpawnSession runs the full spawn protocol (§4.3), bounded by spawnTimeout;
// on timeout the session is marked failed and a 504 is returned.
// POST /sessions/spawn
func (h *Handler) SpawnSession(c *gin.Context) {
	var req spawnSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	source := req.Source
	if source == "" {
		source = models.SourceAPI
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.spawnTimeout)
	defer cancel()

	result, err := h.spawner.Spawn(ctx, spawn.Request{
		ProjectID:       req.ProjectID,
		TaskIDs:         req.TaskIDs,
		Name:            req.Name,
		Mode:            req.Mode,
		TeamMemberID:    req.TeamMemberID,
		Model:           req.Model,
		AgentTool:       req.AgentTool,
		AllowedCommands: req.AllowedCommands,
		Source:          source,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if result != nil {
				_, _ = h.service.UpdateStatus(c.Request.Context(), result.SessionID, models.StatusFailed)
			}
			writeErr(c, apperrors.Timeout("spawn did not complete within the configured timeout"))
			return
		}
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":      result.SessionID,
		"manifestPath":   result.ManifestPath,
		"manifest":       result.Manifest,
		"envVars":        result.EnvVars,
		"initialCommand": result.InitialCommand,
	})
}

type reportEventRequest struct {
	Kind    string `json:"kind" binding:"required"`
	Message string `json:"message"`
}

// ReportEvent records agent-emitted telemetry against a session.
// POST /sessions/:sessionId/events
func (h *Handler) ReportEvent(c *gin.Context) {
	var req reportEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	session, err := h.service.RecordEvent(c.Request.Context(), c.Param("sessionId"), req.Kind, req.Message)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type appendTimelineRequest struct {
	Message string `json:"message" binding:"required"`
}

// AppendTimeline appends a timeline note to a session.
// POST /sessions/:sessionId/timeline
func (h *Handler) AppendTimeline(c *gin.Context) {
	var req appendTimelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	session, err := h.service.RecordEvent(c.Request.Context(), c.Param("sessionId"), "note", req.Message)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func writeErr(c *gin.Context, err error) {
	status, envelope := apperrors.ToEnvelope(err)
	c.JSON(status, envelope)
}
