// Package service implements the per-session round-robin work queue
// (spec §4.6): push, peek, and the queued→processing→terminal lifecycle,
// keeping a session's taskSessionStatuses entry in sync with queue state.
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
	"github.com/kandev/maestro/internal/queue/models"
	taskmodels "github.com/kandev/maestro/internal/task/models"
)

// Repository is the persistence contract the service depends on.
type Repository interface {
	PutAll(sessionID string, items []*models.Item) error
	List(sessionID string) []*models.Item
	Delete(sessionID string) error
}

// TaskStatusUpdater lets the queue service keep a task's taskSessionStatuses
// entry in sync with queue transitions, without importing the task
// package's service directly.
type TaskStatusUpdater interface {
	SetSessionStatus(ctx context.Context, taskID, sessionID string, status taskmodels.SessionStatus) error
}

// Service is the queue use-case layer.
type Service struct {
	repo   Repository
	tasks  TaskStatusUpdater
	bus    bus.EventBus
	logger *logger.Logger
}

// New constructs a Service.
func New(repo Repository, tasks TaskStatusUpdater, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, tasks: tasks, bus: eventBus, logger: log}
}

// Push appends a new queued item to a session's queue.
func (s *Service) Push(sessionID, taskID string) (*models.Item, error) {
	if sessionID == "" || taskID == "" {
		return nil, apperrors.Validation("sessionId and taskId are required")
	}
	items := s.repo.List(sessionID)
	item := &models.Item{
		ID:        idgen.New(idgen.QueueItem),
		SessionID: sessionID,
		TaskID:    taskID,
		Position:  len(items),
		Status:    models.StatusQueued,
	}
	items = append(items, item)
	if err := s.repo.PutAll(sessionID, items); err != nil {
		return nil, apperrors.Internal("failed to persist queue", err)
	}
	return item.Clone(), nil
}

// Top returns the first queued item in a session's queue, or nil if none.
func (s *Service) Top(sessionID string) *models.Item {
	for _, item := range s.repo.List(sessionID) {
		if item.Status == models.StatusQueued {
			return item.Clone()
		}
	}
	return nil
}

// List returns a session's full ordered queue.
func (s *Service) List(sessionID string) []*models.Item {
	items := s.repo.List(sessionID)
	out := make([]*models.Item, 0, len(items))
	for _, item := range items {
		out = append(out, item.Clone())
	}
	return out
}

// Start atomically moves the first queued item to processing, refusing the
// transition if another item for the session is already processing
// (invariant: at most one processing item per session).
func (s *Service) Start(ctx context.Context, sessionID string) (*models.Item, error) {
	items := s.repo.List(sessionID)
	for _, item := range items {
		if item.Status == models.StatusProcessing {
			return nil, apperrors.Conflict("session already has a processing queue item")
		}
	}

	var started *models.Item
	for _, item := range items {
		if item.Status == models.StatusQueued {
			now := time.Now().UTC()
			item.Status = models.StatusProcessing
			item.StartedAt = &now
			started = item
			break
		}
	}
	if started == nil {
		return nil, apperrors.NotFound("queue item", "queued")
	}

	if err := s.repo.PutAll(sessionID, items); err != nil {
		return nil, apperrors.Internal("failed to persist queue", err)
	}

	if s.tasks != nil {
		if err := s.tasks.SetSessionStatus(ctx, started.TaskID, sessionID, taskmodels.SessionStatusWorking); err != nil {
			s.logger.Warn("failed to sync task session status on queue start",
				zap.String("task_id", started.TaskID), zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	s.publish(ctx, events.QueueItemStarted, started, "")
	return started.Clone(), nil
}

// Complete transitions the session's processing item to completed.
func (s *Service) Complete(ctx context.Context, sessionID, taskID string) (*models.Item, error) {
	return s.finish(ctx, sessionID, taskID, models.StatusCompleted, taskmodels.SessionStatusCompleted, events.QueueItemCompleted, "")
}

// Fail transitions the session's processing item to failed.
func (s *Service) Fail(ctx context.Context, sessionID, taskID, reason string) (*models.Item, error) {
	return s.finish(ctx, sessionID, taskID, models.StatusFailed, taskmodels.SessionStatusFailed, events.QueueItemFailed, reason)
}

// Skip transitions the session's processing item to skipped.
func (s *Service) Skip(ctx context.Context, sessionID, taskID string) (*models.Item, error) {
	return s.finish(ctx, sessionID, taskID, models.StatusSkipped, taskmodels.SessionStatusSkipped, "", "")
}

func (s *Service) finish(ctx context.Context, sessionID, taskID string, status models.Status, taskStatus taskmodels.SessionStatus, eventType, reason string) (*models.Item, error) {
	items := s.repo.List(sessionID)
	var target *models.Item
	for _, item := range items {
		if item.TaskID == taskID && item.Status == models.StatusProcessing {
			target = item
			break
		}
	}
	if target == nil {
		return nil, apperrors.NotFound("processing queue item", taskID)
	}

	now := time.Now().UTC()
	target.Status = status
	target.CompletedAt = &now

	if err := s.repo.PutAll(sessionID, items); err != nil {
		return nil, apperrors.Internal("failed to persist queue", err)
	}

	if s.tasks != nil {
		if err := s.tasks.SetSessionStatus(ctx, taskID, sessionID, taskStatus); err != nil {
			s.logger.Warn("failed to sync task session status on queue finish",
				zap.String("task_id", taskID), zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if eventType != "" {
		s.publish(ctx, eventType, target, reason)
	}
	return target.Clone(), nil
}

// DeleteSessionQueue removes a session's queue entirely, used during session
// cascade delete.
func (s *Service) DeleteSessionQueue(sessionID string) error {
	if err := s.repo.Delete(sessionID); err != nil {
		return apperrors.Internal("failed to delete queue", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, item *models.Item, errMsg string) {
	payload := events.QueueItemPayload{
		SessionID: item.SessionID,
		ItemID:    item.ID,
		Error:     errMsg,
	}
	event := bus.NewEvent(eventType, "queue", events.ToData(payload))
	if err := s.bus.Publish(ctx, events.QueueSubject(item.SessionID), event); err != nil {
		s.logger.Error("failed to publish queue event", zap.String("type", eventType), zap.Error(err))
	}
}
