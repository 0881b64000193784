// Package server is the composition root: it wires every domain's
// repository, service, and HTTP handler together, and resolves the small
// cross-domain adapters each service's Set* hook expects (spec §2
// "one-directional dependency graph" design).
package server

import (
	"context"
	"fmt"

	messagemodels "github.com/kandev/maestro/internal/message/models"
	messageservice "github.com/kandev/maestro/internal/message/service"
	sessionmodels "github.com/kandev/maestro/internal/session/models"
	sessionservice "github.com/kandev/maestro/internal/session/service"
	"github.com/kandev/maestro/internal/session/spawn"
	taskmodels "github.com/kandev/maestro/internal/task/models"
	taskservice "github.com/kandev/maestro/internal/task/service"
	teammemberservice "github.com/kandev/maestro/internal/teammember/service"
)

// projectCascade implements project/service.Cascade by fanning out to every
// sibling domain's own deletion path, so deleting a project behaves exactly
// like deleting each of its tasks, sessions, team members, and messages one
// at a time (same events, same side effects).
type projectCascade struct {
	tasks       *taskservice.Service
	sessions    *sessionservice.Service
	teamMembers *teammemberservice.Service
	messages    *messageservice.Service
	queues      queueService
}

// queueService is the subset of queue/service.Service the cascade needs;
// declared locally to avoid an import cycle back into cmd wiring order.
type queueService interface {
	DeleteSessionQueue(sessionID string) error
}

func (c *projectCascade) DeleteProjectData(ctx context.Context, projectID string) error {
	for _, s := range c.sessions.ListSessions(projectID) {
		if err := c.queues.DeleteSessionQueue(s.ID); err != nil {
			return fmt.Errorf("delete queue for session %s: %w", s.ID, err)
		}
		if err := c.messages.DeleteBySession(s.ID); err != nil {
			return fmt.Errorf("delete messages for session %s: %w", s.ID, err)
		}
		if err := c.sessions.DeleteSession(ctx, s.ID); err != nil {
			return fmt.Errorf("delete session %s: %w", s.ID, err)
		}
	}
	for _, t := range c.tasks.ListTasks(taskservice.ListFilter{ProjectID: projectID}) {
		if err := c.tasks.DeleteTask(ctx, t.ID); err != nil {
			return fmt.Errorf("delete task %s: %w", t.ID, err)
		}
	}
	for _, m := range c.teamMembers.ListEffective(projectID) {
		if err := c.teamMembers.DeleteTeamMember(ctx, m.ID); err != nil {
			return fmt.Errorf("delete team member %s: %w", m.ID, err)
		}
	}
	return nil
}

// sessionLookup implements message/service.SessionLookup directly against
// the session service, without the message package importing it.
type sessionLookup struct {
	sessions *sessionservice.Service
}

func (l *sessionLookup) Lookup(sessionID string) (messageservice.SessionInfo, bool) {
	s, err := l.sessions.GetSession(sessionID)
	if err != nil {
		return messageservice.SessionInfo{}, false
	}
	return messageservice.SessionInfo{ProjectID: s.ProjectID, Terminal: s.Status.Terminal()}, true
}

// timelineNotifier implements message/service.TimelineNotifier by recording
// the expiry as a timeline event on the sender's session.
type timelineNotifier struct {
	sessions *sessionservice.Service
}

func (n *timelineNotifier) NotifyExpired(ctx context.Context, sessionID, messageID string) error {
	_, err := n.sessions.RecordEvent(ctx, sessionID, "message_expired",
		fmt.Sprintf("message %s expired before the recipient session read it", messageID))
	return err
}

// mcpDependencies implements mcpserver.Dependencies by combining the four
// sibling services a session's MCP tools may call into, so the mcpserver
// package itself never has to import them directly.
type mcpDependencies struct {
	tasks    *taskservice.Service
	sessions *sessionservice.Service
	messages *messageservice.Service
	spawner  *spawn.Coordinator
}

func (d *mcpDependencies) SetSessionStatus(ctx context.Context, taskID, sessionID string, status taskmodels.SessionStatus) error {
	return d.tasks.SetSessionStatus(ctx, taskID, sessionID, status)
}

func (d *mcpDependencies) RecordEvent(ctx context.Context, sessionID, kind, message string) (*sessionmodels.Session, error) {
	return d.sessions.RecordEvent(ctx, sessionID, kind, message)
}

func (d *mcpDependencies) SendMessage(ctx context.Context, fromSessionID, toSessionID, body string, metadata messagemodels.Metadata) (*messagemodels.Message, error) {
	return d.messages.Send(ctx, fromSessionID, toSessionID, body, metadata)
}

func (d *mcpDependencies) Spawn(ctx context.Context, req spawn.Request) (*spawn.Result, error) {
	return d.spawner.Spawn(ctx, req)
}
