// Package service implements task business logic: update-source enforcement,
// timeline bookkeeping, and parent/project validation (spec §4.2).
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
	"github.com/kandev/maestro/internal/task/models"
)

// Repository is the persistence contract the service depends on.
type Repository interface {
	Put(t *models.Task) error
	Get(id string) (*models.Task, bool)
	ListByProject(projectID string) []*models.Task
	ListByParent(parentID string) []*models.Task
	Delete(id string) error
}

// ProjectLookup lets the task service validate a projectId exists without
// importing the project package's service directly.
type ProjectLookup interface {
	ProjectExists(projectID string) bool
}

// SessionUnlinker is implemented by the session service so task deletion can
// remove the deleted task from every sibling session's taskIds and emit
// session:updated, without the task package importing session.
type SessionUnlinker interface {
	UnlinkTask(ctx context.Context, sessionID, taskID string) error
}

// Service is the task use-case layer.
type Service struct {
	repo     Repository
	projects ProjectLookup
	sessions SessionUnlinker
	bus      bus.EventBus
	logger   *logger.Logger
}

// New constructs a Service. SetSessionUnlinker must be called before
// DeleteTask cascades to sessions; until then deletion only removes the
// task record.
func New(repo Repository, projects ProjectLookup, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, projects: projects, bus: eventBus, logger: log}
}

// SetSessionUnlinker wires the cross-domain cleanup callback used by DeleteTask.
func (s *Service) SetSessionUnlinker(u SessionUnlinker) {
	s.sessions = u
}

// CreateTaskInput carries the fields a caller may set when creating a task.
type CreateTaskInput struct {
	ProjectID          string
	ParentID           string
	Title              string
	Description        string
	Priority           int
	Dependencies       []string
	AcceptanceCriteria []string
}

// CreateTask validates project/parent linkage and persists a new task in
// status=todo with empty sessionIds/taskSessionStatuses.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if in.ProjectID == "" {
		return nil, apperrors.Validation("projectId is required")
	}
	if in.Title == "" {
		return nil, apperrors.Validation("title is required")
	}
	if s.projects != nil && !s.projects.ProjectExists(in.ProjectID) {
		return nil, apperrors.NotFound("project", in.ProjectID)
	}

	if in.ParentID != "" {
		parent, ok := s.repo.Get(in.ParentID)
		if !ok {
			return nil, apperrors.Validation("parentId does not reference an existing task")
		}
		if parent.ProjectID != in.ProjectID {
			return nil, apperrors.Validation("parentId belongs to a different project")
		}
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:                  idgen.New(idgen.Task),
		ProjectID:           in.ProjectID,
		ParentID:            in.ParentID,
		Title:               in.Title,
		Description:         in.Description,
		Status:              models.StatusTodo,
		Priority:            in.Priority,
		CreatedAt:           now,
		UpdatedAt:           now,
		SessionIDs:          []string{},
		TaskSessionStatuses: map[string]models.SessionStatus{},
		Timeline:            []models.TimelineEntry{},
		Dependencies:        append([]string(nil), in.Dependencies...),
		AcceptanceCriteria:  append([]string(nil), in.AcceptanceCriteria...),
	}

	if err := s.repo.Put(task); err != nil {
		return nil, apperrors.Internal("failed to persist task", err)
	}

	s.publish(ctx, events.TaskCreated, task, models.UpdateSourceUser)
	return task.Clone(), nil
}

// GetTask returns a task by id.
func (s *Service) GetTask(id string) (*models.Task, error) {
	t, ok := s.repo.Get(id)
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	return t.Clone(), nil
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	ProjectID string
	Status    models.Status
	Priority  *int
	ParentID  *string
}

// ListTasks returns every task for a project matching the given filter.
func (s *Service) ListTasks(filter ListFilter) []*models.Task {
	tasks := s.repo.ListByProject(filter.ProjectID)
	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Priority != nil && t.Priority != *filter.Priority {
			continue
		}
		if filter.ParentID != nil && t.ParentID != *filter.ParentID {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// GetTasksByIDs returns every task in ids that exists, in no particular
// order, used by the spawn coordinator to gather a spawn request's tasks.
func (s *Service) GetTasksByIDs(ids []string) []*models.Task {
	out := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.repo.Get(id); ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// LinkSession appends sessionID to a task's sessionIds and sets its initial
// taskSessionStatuses entry, as part of the spawn protocol's task↔session
// linking step (§4.3 step 6). Persists and emits task:updated.
func (s *Service) LinkSession(ctx context.Context, taskID, sessionID string, initialStatus models.SessionStatus) (*models.Task, error) {
	existing, ok := s.repo.Get(taskID)
	if !ok {
		return nil, apperrors.NotFound("task", taskID)
	}
	updated := existing.Clone()
	if !updated.HasSession(sessionID) {
		updated.SessionIDs = append(updated.SessionIDs, sessionID)
	}
	updated.TaskSessionStatuses[sessionID] = initialStatus
	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.Put(updated); err != nil {
		return nil, apperrors.Internal("failed to persist task", err)
	}
	s.publish(ctx, events.TaskUpdated, updated, models.UpdateSourceSession)
	return updated.Clone(), nil
}

// SetSessionStatus updates a single session's entry in a task's
// taskSessionStatuses map, used by the queue service when it starts,
// completes, fails, or skips a queue item. Equivalent to a session-sourced
// UpdateTask restricted to the session status field.
func (s *Service) SetSessionStatus(ctx context.Context, taskID, sessionID string, status models.SessionStatus) error {
	_, err := s.UpdateTask(ctx, taskID, UpdatePatch{SessionStatus: &status}, models.UpdateSourceSession, sessionID)
	return err
}

// GetChildren returns tasks whose parentId equals id. Tree assembly above a
// single level is the caller's responsibility.
func (s *Service) GetChildren(id string) []*models.Task {
	children := s.repo.ListByParent(id)
	out := make([]*models.Task, 0, len(children))
	for _, t := range children {
		out = append(out, t.Clone())
	}
	return out
}

// UpdatePatch carries the fields a PATCH may change. Nil means "leave
// unchanged". SessionStatus is only honored when UpdateSource is "session".
type UpdatePatch struct {
	Title        *string
	Description  *string
	Status       *models.Status
	Priority     *int
	Dependencies []string

	SessionStatus *models.SessionStatus
}

// UpdateTask applies updateSource enforcement (§4.2): a session-sourced
// update may only touch taskSessionStatuses[sessionId]; a user-sourced
// update may touch every other field, but never the map wholesale.
func (s *Service) UpdateTask(ctx context.Context, id string, patch UpdatePatch, source models.UpdateSource, sessionID string) (*models.Task, error) {
	existing, ok := s.repo.Get(id)
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	updated := existing.Clone()

	switch source {
	case models.UpdateSourceSession:
		if sessionID == "" {
			return nil, apperrors.Validation("sessionId is required for a session-sourced update")
		}
		if patch.SessionStatus != nil {
			updated.TaskSessionStatuses[sessionID] = *patch.SessionStatus
		}
		// Every other field in patch is silently dropped for this source.
	case models.UpdateSourceUser:
		fromStatus := updated.Status
		if patch.Title != nil {
			updated.Title = *patch.Title
		}
		if patch.Description != nil {
			updated.Description = *patch.Description
		}
		if patch.Priority != nil {
			updated.Priority = *patch.Priority
		}
		if patch.Dependencies != nil {
			updated.Dependencies = append([]string(nil), patch.Dependencies...)
		}
		if patch.Status != nil && *patch.Status != fromStatus {
			updated.Status = *patch.Status
			s.applyStatusTimestamps(updated, fromStatus, *patch.Status)
			updated.Timeline = append(updated.Timeline, models.TimelineEntry{
				Timestamp:    time.Now().UTC(),
				UpdateSource: source,
				FromStatus:   fromStatus,
				ToStatus:     *patch.Status,
			})
		}
	default:
		return nil, apperrors.Validation("updateSource must be \"user\" or \"session\"")
	}

	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.Put(updated); err != nil {
		return nil, apperrors.Internal("failed to persist task", err)
	}

	s.publish(ctx, events.TaskUpdated, updated, source)
	return updated.Clone(), nil
}

// AppendTimelineNote appends a free-form note to a task's timeline without
// changing status, then persists and publishes task:updated.
func (s *Service) AppendTimelineNote(ctx context.Context, id, note string, source models.UpdateSource, sessionID string) (*models.Task, error) {
	if note == "" {
		return nil, apperrors.Validation("note is required")
	}
	existing, ok := s.repo.Get(id)
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	updated := existing.Clone()
	updated.Timeline = append(updated.Timeline, models.TimelineEntry{
		Timestamp:    time.Now().UTC(),
		UpdateSource: source,
		SessionID:    sessionID,
		Note:         note,
	})
	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.Put(updated); err != nil {
		return nil, apperrors.Internal("failed to persist task", err)
	}

	s.publish(ctx, events.TaskUpdated, updated, source)
	return updated.Clone(), nil
}

func (s *Service) applyStatusTimestamps(t *models.Task, from, to models.Status) {
	now := time.Now().UTC()
	if to == models.StatusInProgress && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if to == models.StatusCompleted {
		t.CompletedAt = &now
	}
}

// DeleteTask removes a task, removing it from every sibling session's
// taskIds and emitting task:deleted plus one session:updated per affected
// session (§4.2). Children are orphaned, not cascaded.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	task, ok := s.repo.Get(id)
	if !ok {
		return apperrors.NotFound("task", id)
	}

	if s.sessions != nil {
		for _, sessionID := range task.SessionIDs {
			if err := s.sessions.UnlinkTask(ctx, sessionID, id); err != nil {
				s.logger.Warn("failed to unlink task from session during delete",
					zap.String("task_id", id), zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}

	if err := s.repo.Delete(id); err != nil {
		return apperrors.Internal("failed to delete task", err)
	}

	s.publish(ctx, events.TaskDeleted, task, models.UpdateSourceUser)
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, t *models.Task, source models.UpdateSource) {
	payload := events.TaskPayload{
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		ParentID:  t.ParentID,
		Title:     t.Title,
		State:     string(t.Status),
		UpdateSrc: string(source),
		UpdatedAt: t.UpdatedAt,
	}
	event := bus.NewEvent(eventType, "task", events.ToData(payload))
	if err := s.bus.Publish(ctx, events.TaskSubject(t.ID), event); err != nil {
		s.logger.Error("failed to publish task event", zap.String("type", eventType), zap.Error(err))
	}
}
