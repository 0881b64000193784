// Package service implements team member business logic: default
// provisioning, override-patch merging, and archive/delete enforcement
// (spec §3, §4.1).
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/idgen"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/teammember/models"
)

// Repository is the persistence contract the service depends on.
type Repository interface {
	PutMember(m *models.TeamMember) error
	GetMember(id string) (*models.TeamMember, bool)
	ListByProject(projectID string) []*models.TeamMember
	DeleteMember(id string) error
	PutOverride(projectID, id string, o *models.Override) error
	GetOverride(id string) (*models.Override, bool)
	DeleteOverride(projectID, id string) error
}

// Service is the team member use-case layer.
type Service struct {
	repo   Repository
	bus    bus.EventBus
	logger *logger.Logger
}

// New constructs a Service.
func New(repo Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: eventBus, logger: log}
}

// EnsureDefaults creates the project's Worker and Coordinator defaults if
// they do not already exist. Idempotent; called once per project (e.g. from
// the composition root right after a project is created).
func (s *Service) EnsureDefaults(ctx context.Context, projectID string) error {
	for _, role := range []models.Role{models.RoleWorker, models.RoleCoordinator} {
		id := models.DefaultID(projectID, role)
		if _, ok := s.repo.GetMember(id); ok {
			continue
		}
		now := time.Now().UTC()
		member := &models.TeamMember{
			ID:        id,
			ProjectID: projectID,
			Name:      defaultName(role),
			Role:      role,
			Identity:  defaultIdentity(role),
			IsDefault: true,
			Status:    models.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.PutMember(member); err != nil {
			return apperrors.Internal("failed to provision default team member", err)
		}
		s.publish(ctx, events.TeamMemberCreated, member)
	}
	return nil
}

func defaultName(role models.Role) string {
	if role == models.RoleCoordinator {
		return "Coordinator"
	}
	return "Worker"
}

func defaultIdentity(role models.Role) string {
	if role == models.RoleCoordinator {
		return "Coordinates a project's tasks by delegating subtasks to worker sessions."
	}
	return "Executes an assigned task directly, reporting status as it works."
}

// CreateTeamMemberInput carries the fields for a custom (non-default)
// team member.
type CreateTeamMemberInput struct {
	ProjectID string
	Name      string
	Role      models.Role
	Identity  string
	Avatar    string
	Model     string
	AgentTool string
	SkillIDs  []string
}

// CreateTeamMember creates a custom, non-default team member.
func (s *Service) CreateTeamMember(ctx context.Context, in CreateTeamMemberInput) (*models.TeamMember, error) {
	if in.ProjectID == "" || in.Name == "" {
		return nil, apperrors.Validation("projectId and name are required")
	}
	if in.Role != models.RoleWorker && in.Role != models.RoleCoordinator {
		return nil, apperrors.Validation("role must be \"worker\" or \"coordinator\"")
	}

	now := time.Now().UTC()
	member := &models.TeamMember{
		ID:        idgen.New(idgen.TeamMember),
		ProjectID: in.ProjectID,
		Name:      in.Name,
		Role:      in.Role,
		Identity:  in.Identity,
		Avatar:    in.Avatar,
		Model:     in.Model,
		AgentTool: in.AgentTool,
		SkillIDs:  in.SkillIDs,
		IsDefault: false,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.PutMember(member); err != nil {
		return nil, apperrors.Internal("failed to persist team member", err)
	}

	s.publish(ctx, events.TeamMemberCreated, member)
	return member.Clone(), nil
}

// GetEffective returns the effective team member: the code default or
// custom base record with any stored override patch merged on top.
func (s *Service) GetEffective(id string) (*models.TeamMember, error) {
	base, ok := s.repo.GetMember(id)
	if !ok {
		return nil, apperrors.NotFound("team member", id)
	}
	override, _ := s.repo.GetOverride(id)
	return override.Apply(base), nil
}

// ListEffective returns every project member (defaults and custom) with
// overrides applied.
func (s *Service) ListEffective(projectID string) []*models.TeamMember {
	members := s.repo.ListByProject(projectID)
	out := make([]*models.TeamMember, 0, len(members))
	for _, m := range members {
		override, _ := s.repo.GetOverride(m.ID)
		out = append(out, override.Apply(m))
	}
	return out
}

// UpdatePatch carries the fields a PATCH may change.
type UpdatePatch struct {
	Name      *string
	Identity  *string
	Avatar    *string
	Model     *string
	AgentTool *string
	SkillIDs  []string
}

// UpdateTeamMember applies a patch. For a default member this is stored as
// an override patch, never mutating the code-default base record; for a
// custom member the base record itself is updated directly.
func (s *Service) UpdateTeamMember(ctx context.Context, id string, patch UpdatePatch) (*models.TeamMember, error) {
	base, ok := s.repo.GetMember(id)
	if !ok {
		return nil, apperrors.NotFound("team member", id)
	}

	if base.IsDefault {
		existing, _ := s.repo.GetOverride(id)
		merged := mergeOverride(existing, patch)
		if err := s.repo.PutOverride(base.ProjectID, id, merged); err != nil {
			return nil, apperrors.Internal("failed to persist team member override", err)
		}
		effective := merged.Apply(base)
		s.publish(ctx, events.TeamMemberUpdated, effective)
		return effective, nil
	}

	updated := base.Clone()
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Identity != nil {
		updated.Identity = *patch.Identity
	}
	if patch.Avatar != nil {
		updated.Avatar = *patch.Avatar
	}
	if patch.Model != nil {
		updated.Model = *patch.Model
	}
	if patch.AgentTool != nil {
		updated.AgentTool = *patch.AgentTool
	}
	if patch.SkillIDs != nil {
		updated.SkillIDs = append([]string(nil), patch.SkillIDs...)
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.PutMember(updated); err != nil {
		return nil, apperrors.Internal("failed to persist team member", err)
	}
	s.publish(ctx, events.TeamMemberUpdated, updated)
	return updated.Clone(), nil
}

func mergeOverride(existing *models.Override, patch UpdatePatch) *models.Override {
	merged := &models.Override{}
	if existing != nil {
		*merged = *existing
	}
	if patch.Name != nil {
		merged.Name = patch.Name
	}
	if patch.Identity != nil {
		merged.Identity = patch.Identity
	}
	if patch.Avatar != nil {
		merged.Avatar = patch.Avatar
	}
	if patch.Model != nil {
		merged.Model = patch.Model
	}
	if patch.AgentTool != nil {
		merged.AgentTool = patch.AgentTool
	}
	if patch.SkillIDs != nil {
		merged.SkillIDs = append([]string(nil), patch.SkillIDs...)
	}
	return merged
}

// Reset deletes a default member's override, reverting it to the code
// default. Returns a validation error for non-default ids.
func (s *Service) Reset(ctx context.Context, id string) (*models.TeamMember, error) {
	base, ok := s.repo.GetMember(id)
	if !ok {
		return nil, apperrors.NotFound("team member", id)
	}
	if !base.IsDefault {
		return nil, apperrors.Validation("only default team members can be reset")
	}
	if err := s.repo.DeleteOverride(base.ProjectID, id); err != nil {
		return nil, apperrors.Internal("failed to reset team member", err)
	}
	s.publish(ctx, events.TeamMemberUpdated, base)
	return base.Clone(), nil
}

// Archive transitions a member to archived status.
func (s *Service) Archive(ctx context.Context, id string) (*models.TeamMember, error) {
	return s.setStatus(ctx, id, models.StatusArchived, events.TeamMemberArchived)
}

// Unarchive transitions a member back to active status.
func (s *Service) Unarchive(ctx context.Context, id string) (*models.TeamMember, error) {
	return s.setStatus(ctx, id, models.StatusActive, events.TeamMemberUpdated)
}

func (s *Service) setStatus(ctx context.Context, id string, status models.Status, eventType string) (*models.TeamMember, error) {
	base, ok := s.repo.GetMember(id)
	if !ok {
		return nil, apperrors.NotFound("team member", id)
	}
	updated := base.Clone()
	updated.Status = status
	updated.UpdatedAt = time.Now().UTC()
	if err := s.repo.PutMember(updated); err != nil {
		return nil, apperrors.Internal("failed to persist team member", err)
	}
	s.publish(ctx, eventType, updated)
	return updated.Clone(), nil
}

// DeleteTeamMember removes a custom member. Defaults cannot be deleted
// (only reset); non-defaults must be archived first.
func (s *Service) DeleteTeamMember(ctx context.Context, id string) error {
	base, ok := s.repo.GetMember(id)
	if !ok {
		return apperrors.NotFound("team member", id)
	}
	if base.IsDefault {
		return apperrors.Forbidden("default team members cannot be deleted, only reset")
	}
	if base.Status != models.StatusArchived {
		return apperrors.Conflict("team member must be archived before deletion")
	}
	if err := s.repo.DeleteMember(id); err != nil {
		return apperrors.Internal("failed to delete team member", err)
	}
	s.publish(ctx, events.TeamMemberDeleted, base)
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, m *models.TeamMember) {
	payload := events.TeamMemberPayload{
		TeamMemberID: m.ID,
		Name:         m.Name,
		Archived:     m.Status == models.StatusArchived,
		UpdatedAt:    m.UpdatedAt,
	}
	event := bus.NewEvent(eventType, "team_member", events.ToData(payload))
	if err := s.bus.Publish(ctx, events.TeamMemberSubject(m.ID), event); err != nil {
		s.logger.Error("failed to publish team member event", zap.String("type", eventType), zap.Error(err))
	}
}
