// Package models defines the Session entity and its spawn-time artifacts.
package models

import "time"

// Status is the session-controlled lifecycle state.
type Status string

const (
	StatusSpawning  Status = "spawning"
	StatusIdle      Status = "idle"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether status is one of the sticky terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

// Mode is set at spawn time and determines prompt composition and the
// permitted command set.
type Mode string

const (
	ModeWorker      Mode = "worker"
	ModeCoordinator Mode = "coordinator"
)

// Source identifies who/what requested a session to be spawned; only
// ui/session sources trigger a session:spawn emission.
type Source string

const (
	SourceUI      Source = "ui"
	SourceSession Source = "session"
	SourceAPI     Source = "api"
)

// NeedsInput records an outstanding question from the agent to the viewer.
type NeedsInput struct {
	Active   bool      `json:"active"`
	Question string    `json:"question,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

// TeamMemberSnapshot is a frozen copy of a team member's identity/config at
// spawn time; once set on a session it is never mutated (invariant 5),
// even if the underlying team member is later archived or edited.
type TeamMemberSnapshot struct {
	TeamMemberID string   `json:"teamMemberId"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Identity     string   `json:"identity"`
	Avatar       string   `json:"avatar,omitempty"`
	Model        string   `json:"model,omitempty"`
	AgentTool    string   `json:"agentTool,omitempty"`
	SkillIDs     []string `json:"skillIds,omitempty"`
}

// TimelineEvent records one notable occurrence in a session's lifetime,
// distinct from the raw agent-emitted Events slice.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message,omitempty"`
}

// Session is a spawned (or about-to-be-spawned) agent process record.
type Session struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	TaskIDs   []string `json:"taskIds"`
	Name      string   `json:"name"`
	Status    Status   `json:"status"`
	Mode      Mode     `json:"mode"`

	StartedAt    time.Time  `json:"startedAt"`
	LastActivity time.Time  `json:"lastActivity"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`

	Env    map[string]string `json:"env"`
	Events []TimelineEvent   `json:"events"`

	TeamMemberID       string              `json:"teamMemberId,omitempty"`
	TeamMemberSnapshot *TeamMemberSnapshot `json:"teamMemberSnapshot,omitempty"`

	// Model/AgentTool are the resolved values from the spawn config-priority
	// chain (explicit request > team-member > task > project default >
	// hardcoded fallback), fixed at spawn time alongside TeamMemberSnapshot.
	Model     string `json:"model,omitempty"`
	AgentTool string `json:"agentTool,omitempty"`

	NeedsInput *NeedsInput            `json:"needsInput,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// repository's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.TaskIDs = append([]string(nil), s.TaskIDs...)
	clone.Events = append([]TimelineEvent(nil), s.Events...)

	clone.Env = make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		clone.Env[k] = v
	}

	if s.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}

	if s.TeamMemberSnapshot != nil {
		snapshot := *s.TeamMemberSnapshot
		snapshot.SkillIDs = append([]string(nil), s.TeamMemberSnapshot.SkillIDs...)
		clone.TeamMemberSnapshot = &snapshot
	}
	if s.NeedsInput != nil {
		needsInput := *s.NeedsInput
		clone.NeedsInput = &needsInput
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		clone.CompletedAt = &completed
	}

	return &clone
}

// HasTask reports whether taskID is linked to this session.
func (s *Session) HasTask(taskID string) bool {
	for _, id := range s.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}
