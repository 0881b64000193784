// Package handlers exposes the project REST API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/project/service"
)

// Handler contains HTTP handlers for the project API.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates a project Handler.
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// Register wires the project routes onto router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/projects", h.CreateProject)
	router.GET("/projects", h.ListProjects)
	router.GET("/projects/:projectId", h.GetProject)
	router.PATCH("/projects/:projectId", h.UpdateProject)
	router.DELETE("/projects/:projectId", h.DeleteProject)
}

type createProjectRequest struct {
	Name             string `json:"name" binding:"required"`
	WorkingDir       string `json:"workingDir" binding:"required"`
	DefaultModel     string `json:"defaultModel"`
	DefaultAgentTool string `json:"defaultAgentTool"`
}

type updateProjectRequest struct {
	Name             *string `json:"name"`
	WorkingDir       *string `json:"workingDir"`
	DefaultModel     *string `json:"defaultModel"`
	DefaultAgentTool *string `json:"defaultAgentTool"`
}

// CreateProject creates a new project.
// POST /projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	project, err := h.service.CreateProject(c.Request.Context(), service.CreateProjectInput{
		Name:             req.Name,
		WorkingDir:       req.WorkingDir,
		DefaultModel:     req.DefaultModel,
		DefaultAgentTool: req.DefaultAgentTool,
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// ListProjects returns every project.
// GET /projects
func (h *Handler) ListProjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"projects": h.service.ListProjects()})
}

// GetProject retrieves a project by id.
// GET /projects/:projectId
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.service.GetProject(c.Param("projectId"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// UpdateProject applies a partial update to a project.
// PATCH /projects/:projectId
func (h *Handler) UpdateProject(c *gin.Context) {
	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	project, err := h.service.UpdateProject(c.Request.Context(), c.Param("projectId"), service.UpdateProjectInput{
		Name:             req.Name,
		WorkingDir:       req.WorkingDir,
		DefaultModel:     req.DefaultModel,
		DefaultAgentTool: req.DefaultAgentTool,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// DeleteProject removes a project and everything that belongs to it.
// DELETE /projects/:projectId
func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.service.DeleteProject(c.Request.Context(), c.Param("projectId")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeErr(c *gin.Context, err error) {
	status, envelope := apperrors.ToEnvelope(err)
	c.JSON(status, envelope)
}
