// Package models defines the Task entity and its timeline.
package models

import "time"

// Status is the user-controlled lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// SessionStatus is the session-controlled status a working session reports
// for a given task, keyed by session id in Task.TaskSessionStatuses.
type SessionStatus string

const (
	SessionStatusQueued    SessionStatus = "queued"
	SessionStatusWorking   SessionStatus = "working"
	SessionStatusBlocked   SessionStatus = "blocked"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusSkipped   SessionStatus = "skipped"
)

// UpdateSource distinguishes a user-originated PATCH from a session report,
// enforced by the service layer (not by this package).
type UpdateSource string

const (
	UpdateSourceUser    UpdateSource = "user"
	UpdateSourceSession UpdateSource = "session"
)

// TimelineEntry records one change to a task for audit/debugging.
type TimelineEntry struct {
	Timestamp    time.Time    `json:"timestamp"`
	UpdateSource UpdateSource `json:"updateSource"`
	SessionID    string       `json:"sessionId,omitempty"`
	FromStatus   Status       `json:"fromStatus,omitempty"`
	ToStatus     Status       `json:"toStatus,omitempty"`
	Note         string       `json:"note,omitempty"`
}

// Task is a unit of work; tasks form a forest via ParentID within a project.
type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	ParentID    string `json:"parentId,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Priority    int    `json:"priority"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	SessionIDs          []string                 `json:"sessionIds"`
	TaskSessionStatuses map[string]SessionStatus `json:"taskSessionStatuses"`
	Timeline            []TimelineEntry          `json:"timeline"`
	Dependencies        []string                 `json:"dependencies"`

	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`

	// Model/AgentTool optionally pin a spawn-time default for sessions
	// working this task, feeding the spawn config-priority chain (explicit
	// request > team-member > task > project default > hardcoded fallback).
	Model     string `json:"model,omitempty"`
	AgentTool string `json:"agentTool,omitempty"`
}

// Clone returns a deep copy safe to hand to a caller outside the
// repository's lock: the slices and map are genuinely copied, not aliased.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t

	clone.SessionIDs = append([]string(nil), t.SessionIDs...)
	clone.Dependencies = append([]string(nil), t.Dependencies...)
	clone.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)

	clone.TaskSessionStatuses = make(map[string]SessionStatus, len(t.TaskSessionStatuses))
	for k, v := range t.TaskSessionStatuses {
		clone.TaskSessionStatuses[k] = v
	}

	clone.Timeline = append([]TimelineEntry(nil), t.Timeline...)

	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}

	return &clone
}

// HasSession reports whether sessionID is linked to this task.
func (t *Task) HasSession(sessionID string) bool {
	for _, id := range t.SessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}
