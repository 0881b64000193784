// Package handlers exposes the team member REST API.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/teammember/models"
	"github.com/kandev/maestro/internal/teammember/service"
)

// Handler contains HTTP handlers for the team member API.
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates a team member Handler.
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

// Register wires the team member routes onto router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/team-members", h.CreateTeamMember)
	router.GET("/team-members", h.ListTeamMembers)
	router.GET("/team-members/:id", h.GetTeamMember)
	router.PATCH("/team-members/:id", h.UpdateTeamMember)
	router.DELETE("/team-members/:id", h.DeleteTeamMember)
	router.POST("/team-members/:id/archive", h.ArchiveTeamMember)
	router.POST("/team-members/:id/unarchive", h.UnarchiveTeamMember)
	router.POST("/team-members/:id/reset", h.ResetTeamMember)
}

type createTeamMemberRequest struct {
	ProjectID string      `json:"projectId" binding:"required"`
	Name      string      `json:"name" binding:"required"`
	Role      models.Role `json:"role" binding:"required"`
	Identity  string      `json:"identity"`
	Avatar    string      `json:"avatar"`
	Model     string      `json:"model"`
	AgentTool string      `json:"agentTool"`
	SkillIDs  []string    `json:"skillIds"`
}

// CreateTeamMember creates a custom team member.
// POST /team-members
func (h *Handler) CreateTeamMember(c *gin.Context) {
	var req createTeamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	member, err := h.service.CreateTeamMember(c.Request.Context(), service.CreateTeamMemberInput{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Role:      req.Role,
		Identity:  req.Identity,
		Avatar:    req.Avatar,
		Model:     req.Model,
		AgentTool: req.AgentTool,
		SkillIDs:  req.SkillIDs,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

// ListTeamMembers returns every effective team member for a project.
// GET /team-members?projectId=
func (h *Handler) ListTeamMembers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"teamMembers": h.service.ListEffective(c.Query("projectId"))})
}

// GetTeamMember retrieves the effective team member by id.
// GET /team-members/:id
func (h *Handler) GetTeamMember(c *gin.Context) {
	member, err := h.service.GetEffective(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

type updateTeamMemberRequest struct {
	Name      *string  `json:"name"`
	Identity  *string  `json:"identity"`
	Avatar    *string  `json:"avatar"`
	Model     *string  `json:"model"`
	AgentTool *string  `json:"agentTool"`
	SkillIDs  []string `json:"skillIds"`
}

// UpdateTeamMember applies a partial update (override patch for defaults,
// direct update for custom members).
// PATCH /team-members/:id
func (h *Handler) UpdateTeamMember(c *gin.Context) {
	var req updateTeamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, apperrors.Validation(err.Error()))
		return
	}

	member, err := h.service.UpdateTeamMember(c.Request.Context(), c.Param("id"), service.UpdatePatch{
		Name:      req.Name,
		Identity:  req.Identity,
		Avatar:    req.Avatar,
		Model:     req.Model,
		AgentTool: req.AgentTool,
		SkillIDs:  req.SkillIDs,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// DeleteTeamMember removes a custom, archived team member.
// DELETE /team-members/:id
func (h *Handler) DeleteTeamMember(c *gin.Context) {
	if err := h.service.DeleteTeamMember(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ArchiveTeamMember transitions a member to archived.
// POST /team-members/:id/archive
func (h *Handler) ArchiveTeamMember(c *gin.Context) {
	member, err := h.service.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// UnarchiveTeamMember transitions a member back to active.
// POST /team-members/:id/unarchive
func (h *Handler) UnarchiveTeamMember(c *gin.Context) {
	member, err := h.service.Unarchive(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// ResetTeamMember deletes a default member's override.
// POST /team-members/:id/reset
func (h *Handler) ResetTeamMember(c *gin.Context) {
	member, err := h.service.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func writeErr(c *gin.Context, err error) {
	status, envelope := apperrors.ToEnvelope(err)
	c.JSON(status, envelope)
}
