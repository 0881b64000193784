// Package service implements project business logic: validation, persistence
// ordering (write before publish), and cascade delete.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/idgen"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/project/models"
)

// Repository is the persistence contract the service depends on.
type Repository interface {
	Put(p *models.Project) error
	Get(id string) (*models.Project, bool)
	List() []*models.Project
	Delete(id string) error
}

// Cascade is implemented by the composition root to remove everything that
// belongs to a deleted project (tasks, sessions, team members, messages).
// The project package does not import those domains directly; wiring the
// callback here keeps the dependency graph one-directional.
type Cascade interface {
	DeleteProjectData(ctx context.Context, projectID string) error
}

// Service is the project use-case layer.
type Service struct {
	repo    Repository
	bus     bus.EventBus
	logger  *logger.Logger
	cascade Cascade
}

// New constructs a Service. SetCascade must be called before DeleteProject is
// used with cascading semantics; until then deletion only removes the
// project record itself.
func New(repo Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: eventBus, logger: log}
}

// SetCascade wires the cross-domain cleanup callback used by DeleteProject.
func (s *Service) SetCascade(c Cascade) {
	s.cascade = c
}

// CreateProjectInput carries the fields a caller may set when creating a
// project.
type CreateProjectInput struct {
	Name             string
	WorkingDir       string
	DefaultModel     string
	DefaultAgentTool string
}

// CreateProject validates input and persists a new project.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (*models.Project, error) {
	if in.Name == "" {
		return nil, apperrors.Validation("name is required")
	}
	if in.WorkingDir == "" {
		return nil, apperrors.Validation("workingDir is required")
	}

	now := time.Now().UTC()
	p := &models.Project{
		ID:               idgen.New(idgen.Project),
		Name:             in.Name,
		WorkingDir:       in.WorkingDir,
		DefaultModel:     in.DefaultModel,
		DefaultAgentTool: in.DefaultAgentTool,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Put(p); err != nil {
		return nil, apperrors.Internal("failed to persist project", err)
	}

	s.publish(ctx, events.ProjectCreated, p)
	return p.Clone(), nil
}

// GetProject returns a project by id.
func (s *Service) GetProject(id string) (*models.Project, error) {
	p, ok := s.repo.Get(id)
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	return p.Clone(), nil
}

// ProjectExists reports whether a project id is known, satisfying
// task/service.ProjectLookup without the task package importing this one.
func (s *Service) ProjectExists(id string) bool {
	_, ok := s.repo.Get(id)
	return ok
}

// ListProjects returns every project.
func (s *Service) ListProjects() []*models.Project {
	projects := s.repo.List()
	out := make([]*models.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.Clone())
	}
	return out
}

// UpdateProjectInput carries the fields a PATCH may change. Nil means "leave
// unchanged".
type UpdateProjectInput struct {
	Name             *string
	WorkingDir       *string
	DefaultModel     *string
	DefaultAgentTool *string
}

// UpdateProject applies a partial update and persists the result.
func (s *Service) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) (*models.Project, error) {
	existing, ok := s.repo.Get(id)
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	updated := existing.Clone()

	if in.Name != nil {
		if *in.Name == "" {
			return nil, apperrors.Validation("name cannot be empty")
		}
		updated.Name = *in.Name
	}
	if in.WorkingDir != nil {
		if *in.WorkingDir == "" {
			return nil, apperrors.Validation("workingDir cannot be empty")
		}
		updated.WorkingDir = *in.WorkingDir
	}
	if in.DefaultModel != nil {
		updated.DefaultModel = *in.DefaultModel
	}
	if in.DefaultAgentTool != nil {
		updated.DefaultAgentTool = *in.DefaultAgentTool
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.Put(updated); err != nil {
		return nil, apperrors.Internal("failed to persist project", err)
	}

	s.publish(ctx, events.ProjectUpdated, updated)
	return updated.Clone(), nil
}

// DeleteProject removes a project and everything that belongs to it
// (scenario S6): the project record is removed and project:deleted is
// emitted first, then tasks, sessions, team members, and messages addressed
// to those sessions are torn down, each emitting its own deletion event.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if _, ok := s.repo.Get(id); !ok {
		return apperrors.NotFound("project", id)
	}

	if err := s.repo.Delete(id); err != nil {
		return apperrors.Internal("failed to delete project", err)
	}

	s.publish(ctx, events.ProjectDeleted, &models.Project{ID: id, UpdatedAt: time.Now().UTC()})

	if s.cascade != nil {
		if err := s.cascade.DeleteProjectData(ctx, id); err != nil {
			return apperrors.Internal(fmt.Sprintf("failed to cascade-delete project %s", id), err)
		}
	}

	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, p *models.Project) {
	payload := events.ProjectPayload{
		ProjectID: p.ID,
		Name:      p.Name,
		UpdatedAt: p.UpdatedAt,
	}
	event := bus.NewEvent(eventType, "project", events.ToData(payload))
	if err := s.bus.Publish(ctx, events.ProjectSubject(p.ID), event); err != nil {
		s.logger.Error("failed to publish project event", zap.String("type", eventType), zap.Error(err))
	}
}
