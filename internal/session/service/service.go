// Package service implements session business logic: the state machine,
// task linkage bookkeeping, and needs-input tracking (spec §4.3).
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
	"github.com/kandev/maestro/internal/session/models"
)

// Repository is the persistence contract the service depends on.
type Repository interface {
	Put(s *models.Session) error
	Get(id string) (*models.Session, bool)
	ListByProject(projectID string) []*models.Session
	List() []*models.Session
	Delete(id string) error
	WriteManifest(sessionID string, manifest interface{}) (string, error)
}

// Service is the session use-case layer.
type Service struct {
	repo   Repository
	bus    bus.EventBus
	logger *logger.Logger
}

// New constructs a Service.
func New(repo Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: eventBus, logger: log}
}

// CreateInput carries the fields needed to create a session record. Used
// directly for plain API-created sessions (no spawn); the spawn coordinator
// builds a Session by hand for the full spawn protocol instead, since it
// also needs to set teamMemberSnapshot atomically with creation.
type CreateInput struct {
	ProjectID string
	TaskIDs   []string
	Name      string
	Mode      models.Mode
}

// CreateSession persists a new session in status=spawning without emitting
// session:spawn (plain API creation is not a launch intent; §4.3 step 8).
func (s *Service) CreateSession(ctx context.Context, in CreateInput) (*models.Session, error) {
	if in.ProjectID == "" {
		return nil, apperrors.Validation("projectId is required")
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:           idgen.New(idgen.Session),
		ProjectID:    in.ProjectID,
		TaskIDs:      append([]string(nil), in.TaskIDs...),
		Name:         in.Name,
		Status:       models.StatusSpawning,
		Mode:         in.Mode,
		StartedAt:    now,
		LastActivity: now,
		Env:          map[string]string{},
		Events:       []models.TimelineEvent{},
	}
	if err := s.Persist(ctx, session, events.SessionCreated); err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// Persist writes a session built elsewhere (e.g. by the spawn coordinator)
// and publishes the given event type for it.
func (s *Service) Persist(ctx context.Context, session *models.Session, eventType string) error {
	if err := s.Save(session); err != nil {
		return err
	}
	s.Emit(ctx, eventType, session)
	return nil
}

// Save writes a session record without publishing any event. The spawn
// coordinator uses this to satisfy the write-before-event invariant while
// deferring session:created until every step of the spawn protocol (task
// linking, manifest composition) has succeeded.
func (s *Service) Save(session *models.Session) error {
	if err := s.repo.Put(session); err != nil {
		return apperrors.Internal("failed to persist session", err)
	}
	return nil
}

// Emit publishes an event for a session that has already been persisted.
func (s *Service) Emit(ctx context.Context, eventType string, session *models.Session) {
	s.publish(ctx, eventType, session)
}

// WriteManifest writes the manifest document to the session's manifest file
// and returns the path it was written to.
func (s *Service) WriteManifest(sessionID string, manifest interface{}) (string, error) {
	path, err := s.repo.WriteManifest(sessionID, manifest)
	if err != nil {
		return "", apperrors.Internal("failed to write session manifest", err)
	}
	return path, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(id string) (*models.Session, error) {
	session, ok := s.repo.Get(id)
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	return session.Clone(), nil
}

// ListSessions returns every session for a project, or every session if
// projectID is empty.
func (s *Service) ListSessions(projectID string) []*models.Session {
	var sessions []*models.Session
	if projectID == "" {
		sessions = s.repo.List()
	} else {
		sessions = s.repo.ListByProject(projectID)
	}
	out := make([]*models.Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// DeleteSession removes a session's record.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	session, ok := s.repo.Get(id)
	if !ok {
		return apperrors.NotFound("session", id)
	}
	if err := s.repo.Delete(id); err != nil {
		return apperrors.Internal("failed to delete session", err)
	}
	s.publish(ctx, events.SessionDeleted, session)
	return nil
}

// RegisterSession is an idempotent "I've started" hook: if the session does
// not exist, a shell record is created; otherwise it transitions to
// working.
func (s *Service) RegisterSession(ctx context.Context, sessionID string) (*models.Session, error) {
	existing, ok := s.repo.Get(sessionID)
	if !ok {
		now := time.Now().UTC()
		session := &models.Session{
			ID:           sessionID,
			Status:       models.StatusWorking,
			StartedAt:    now,
			LastActivity: now,
			Env:          map[string]string{},
			Events:       []models.TimelineEvent{},
		}
		if err := s.Persist(ctx, session, events.SessionCreated); err != nil {
			return nil, err
		}
		return session.Clone(), nil
	}

	if existing.Status.Terminal() {
		return existing.Clone(), nil
	}
	updated := existing.Clone()
	updated.Status = models.StatusWorking
	updated.LastActivity = time.Now().UTC()
	if err := s.Persist(ctx, updated, events.SessionUpdated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// UpdateStatus transitions a session's status, rejecting any transition out
// of a terminal state (terminal states are sticky).
func (s *Service) UpdateStatus(ctx context.Context, sessionID string, status models.Status) (*models.Session, error) {
	existing, ok := s.repo.Get(sessionID)
	if !ok {
		return nil, apperrors.NotFound("session", sessionID)
	}
	if existing.Status.Terminal() {
		return nil, apperrors.Forbidden("session is in a terminal state and cannot transition further")
	}

	updated := existing.Clone()
	updated.Status = status
	updated.LastActivity = time.Now().UTC()
	if status.Terminal() {
		now := time.Now().UTC()
		updated.CompletedAt = &now
	}
	if err := s.Persist(ctx, updated, events.SessionUpdated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// CompleteSession moves a session to completed and records completedAt.
func (s *Service) CompleteSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.UpdateStatus(ctx, sessionID, models.StatusCompleted)
}

// ReportNeedsInput records that the agent has an outstanding question for
// the viewer and broadcasts session:updated.
func (s *Service) ReportNeedsInput(ctx context.Context, sessionID, question string) (*models.Session, error) {
	existing, ok := s.repo.Get(sessionID)
	if !ok {
		return nil, apperrors.NotFound("session", sessionID)
	}
	updated := existing.Clone()
	updated.NeedsInput = &models.NeedsInput{Active: true, Question: question, Since: time.Now().UTC()}
	updated.LastActivity = time.Now().UTC()
	if err := s.Persist(ctx, updated, events.SessionUpdated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// ClearNeedsInput clears an outstanding question, called when the viewer
// opens the session or the agent emits a new event.
func (s *Service) ClearNeedsInput(ctx context.Context, sessionID string) (*models.Session, error) {
	existing, ok := s.repo.Get(sessionID)
	if !ok {
		return nil, apperrors.NotFound("session", sessionID)
	}
	if existing.NeedsInput == nil || !existing.NeedsInput.Active {
		return existing.Clone(), nil
	}
	updated := existing.Clone()
	updated.NeedsInput = &models.NeedsInput{Active: false}
	if err := s.Persist(ctx, updated, events.SessionUpdated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// RecordEvent appends an agent-emitted telemetry event to the session's
// timeline, updates lastActivity, and clears any outstanding needs-input
// flag (a new agent event implicitly answers the question).
func (s *Service) RecordEvent(ctx context.Context, sessionID, kind, message string) (*models.Session, error) {
	existing, ok := s.repo.Get(sessionID)
	if !ok {
		return nil, apperrors.NotFound("session", sessionID)
	}
	updated := existing.Clone()
	updated.Events = append(updated.Events, models.TimelineEvent{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Message:   message,
	})
	updated.LastActivity = time.Now().UTC()
	if updated.NeedsInput != nil && updated.NeedsInput.Active {
		updated.NeedsInput = &models.NeedsInput{Active: false}
	}
	if err := s.Persist(ctx, updated, events.SessionUpdated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// UnlinkTask removes taskID from a session's taskIds and emits
// session:updated. Implements task/service.SessionUnlinker.
func (s *Service) UnlinkTask(ctx context.Context, sessionID, taskID string) error {
	existing, ok := s.repo.Get(sessionID)
	if !ok {
		return nil
	}
	if !existing.HasTask(taskID) {
		return nil
	}
	updated := existing.Clone()
	remaining := make([]string, 0, len(updated.TaskIDs))
	for _, id := range updated.TaskIDs {
		if id != taskID {
			remaining = append(remaining, id)
		}
	}
	updated.TaskIDs = remaining
	return s.Persist(ctx, updated, events.SessionUpdated)
}

func (s *Service) publish(ctx context.Context, eventType string, session *models.Session) {
	payload := events.SessionPayload{
		SessionID:    session.ID,
		TeamMemberID: session.TeamMemberID,
		State:        string(session.Status),
		NeedsInput:   session.NeedsInput != nil && session.NeedsInput.Active,
		UpdatedAt:    session.LastActivity,
	}
	if len(session.TaskIDs) > 0 {
		payload.TaskID = session.TaskIDs[0]
	}
	event := bus.NewEvent(eventType, "session", events.ToData(payload))
	if err := s.bus.Publish(ctx, events.SessionSubject(session.ID), event); err != nil {
		s.logger.Error("failed to publish session event", zap.String("type", eventType), zap.Error(err))
	}
}
