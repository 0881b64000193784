// Package events provides event types and utilities for the Maestro event system.
package events

import (
	"encoding/json"
	"time"
)

// Subject prefixes used for bus routing. Subjects are dot-separated so the
// in-memory and NATS buses can wildcard-subscribe with "*"/">" (e.g. a
// subscriber that wants every session event subscribes to "session.>", while
// one session's events are published on exactly "session.<id>"). The Type field on the Event envelope itself uses the
// colon-separated name below, matching the wire vocabulary clients see.
const (
	subjectProject    = "project"
	subjectTask       = "task"
	subjectSession    = "session"
	subjectTeamMember = "team_member"
	subjectMessage    = "message"
	subjectQueue      = "queue"
)

// Project events.
const (
	ProjectCreated = "project:created"
	ProjectUpdated = "project:updated"
	ProjectDeleted = "project:deleted"
)

// Task events.
const (
	TaskCreated = "task:created"
	TaskUpdated = "task:updated"
	TaskDeleted = "task:deleted"
)

// Session events.
const (
	SessionCreated     = "session:created"
	SessionUpdated     = "session:updated"
	SessionDeleted     = "session:deleted"
	SessionSpawn       = "session:spawn"
	SessionTaskAdded   = "session:task_added"
	SessionTaskRemoved = "session:task_removed"
	SessionModalOpened = "session:modal_opened"
	SessionModalClosed = "session:modal_closed"
	SessionModalAction = "session:modal_action"
	// SessionMessageReceived is routed to the receiving session specifically
	// (published on its own subject, not just the message's) so a session's
	// subscribers learn about new mail without subscribing to every message.
	SessionMessageReceived = "session:message_received"
)

// Team member events.
const (
	TeamMemberCreated  = "team_member:created"
	TeamMemberUpdated  = "team_member:updated"
	TeamMemberDeleted  = "team_member:deleted"
	TeamMemberArchived = "team_member:archived"
)

// Message events.
const (
	MessageCreated   = "message:created"
	MessageDelivered = "message:delivered"
	MessageRead      = "message:read"
)

// Queue events.
const (
	QueueItemStarted   = "queue:item_started"
	QueueItemCompleted = "queue:item_completed"
	QueueItemFailed    = "queue:item_failed"
)

// BuildSubject returns the dot-separated bus subject for an entity kind and
// id, e.g. BuildSubject("session", "sess_123") -> "session.sess_123".
func BuildSubject(kind, id string) string {
	return kind + "." + id
}

// BuildWildcardSubject returns a subject pattern matching every event for an
// entity kind, e.g. BuildWildcardSubject("task") -> "task.>".
func BuildWildcardSubject(kind string) string {
	return kind + ".>"
}

// AllSubject returns the subject pattern matching every event on the bus,
// used by the WebSocket bridge to fan out the full event stream to clients.
func AllSubject() string {
	return ">"
}

// ProjectSubject returns the bus subject for a project's events.
func ProjectSubject(projectID string) string { return BuildSubject(subjectProject, projectID) }

// TaskSubject returns the bus subject for a task's events.
func TaskSubject(taskID string) string { return BuildSubject(subjectTask, taskID) }

// SessionSubject returns the bus subject for a session's events.
func SessionSubject(sessionID string) string { return BuildSubject(subjectSession, sessionID) }

// TeamMemberSubject returns the bus subject for a team member's events.
func TeamMemberSubject(teamMemberID string) string {
	return BuildSubject(subjectTeamMember, teamMemberID)
}

// MessageSubject returns the bus subject for a message's events.
func MessageSubject(messageID string) string { return BuildSubject(subjectMessage, messageID) }

// QueueSubject returns the bus subject for a session's queue events.
func QueueSubject(sessionID string) string { return BuildSubject(subjectQueue, sessionID) }

// The payload structs below form the closed, tagged union of event records:
// every event name above has exactly one corresponding payload shape,
// assembled by the owning service and carried in Event.Data.

// ProjectPayload is the payload for project:created/updated/deleted.
type ProjectPayload struct {
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskPayload is the payload for task:created/updated/deleted.
type TaskPayload struct {
	TaskID    string    `json:"taskId"`
	ProjectID string    `json:"projectId"`
	ParentID  string    `json:"parentId,omitempty"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	UpdateSrc string    `json:"updateSource"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionPayload is the payload for session:created/updated/deleted.
type SessionPayload struct {
	SessionID    string    `json:"sessionId"`
	TaskID       string    `json:"taskId"`
	TeamMemberID string    `json:"teamMemberId"`
	State        string    `json:"state"`
	NeedsInput   bool      `json:"needsInput"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SessionSpawnPayload is the payload for session:spawn.
type SessionSpawnPayload struct {
	SessionID    string `json:"sessionId"`
	TaskID       string `json:"taskId"`
	TeamMemberID string `json:"teamMemberId"`
	ManifestPath string `json:"manifestPath"`
}

// SessionTaskLinkPayload is the payload for session:task_added/task_removed.
type SessionTaskLinkPayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
}

// SessionModalPayload is the payload for session:modal_opened/modal_closed.
type SessionModalPayload struct {
	SessionID string `json:"sessionId"`
	ModalID   string `json:"modalId"`
	Kind      string `json:"kind"`
}

// SessionModalActionPayload is the payload for session:modal_action.
type SessionModalActionPayload struct {
	SessionID string `json:"sessionId"`
	ModalID   string `json:"modalId"`
	Action    string `json:"action"`
}

// TeamMemberPayload is the payload for team_member:created/updated/deleted/archived.
type TeamMemberPayload struct {
	TeamMemberID string    `json:"teamMemberId"`
	Name         string    `json:"name"`
	Archived     bool      `json:"archived"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MessagePayload is the payload for message:created/delivered/read and for
// session:message_received. SessionID scopes delivery to the receiving
// session's websocket subscribers; it mirrors ToSession.
type MessagePayload struct {
	MessageID   string    `json:"messageId"`
	SessionID   string    `json:"sessionId"`
	FromSession string    `json:"fromSession"`
	ToSession   string    `json:"toSession"`
	SentAt      time.Time `json:"sentAt"`
}

// QueueItemPayload is the payload for queue:item_started/item_completed/item_failed.
type QueueItemPayload struct {
	SessionID string `json:"sessionId"`
	ItemID    string `json:"itemId"`
	Error     string `json:"error,omitempty"`
}

// ToData converts a typed payload struct into the map[string]interface{}
// shape bus.Event.Data carries. Services build a typed payload, then call
// this right before bus.NewEvent so the wire shape stays tied to the struct
// definitions above instead of being assembled by hand at each call site.
func ToData(payload interface{}) map[string]interface{} {
	raw, err := json.Marshal(payload)
	if err != nil {
		return map[string]interface{}{}
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]interface{}{}
	}
	return data
}
