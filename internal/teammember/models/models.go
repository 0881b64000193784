// Package models defines the TeamMember entity: the identity and
// configuration a spawned session is bound to.
package models

import "time"

// Status is the lifecycle state of a team member.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Role distinguishes the two built-in defaults from custom members; a
// non-default member may still carry either role.
type Role string

const (
	RoleWorker      Role = "worker"
	RoleCoordinator Role = "coordinator"
)

// TeamMember is a named identity/config a session may be spawned as.
type TeamMember struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Identity  string `json:"identity"`
	Avatar    string `json:"avatar,omitempty"`

	Model     string   `json:"model,omitempty"`
	AgentTool string   `json:"agentTool,omitempty"`
	SkillIDs  []string `json:"skillIds,omitempty"`

	IsDefault bool      `json:"isDefault"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// repository's lock.
func (t *TeamMember) Clone() *TeamMember {
	if t == nil {
		return nil
	}
	clone := *t
	clone.SkillIDs = append([]string(nil), t.SkillIDs...)
	return &clone
}

// Override is the partial patch file stored for a default team member that
// the user has customized; nil fields mean "use the code default".
type Override struct {
	Name      *string  `json:"name,omitempty"`
	Identity  *string  `json:"identity,omitempty"`
	Avatar    *string  `json:"avatar,omitempty"`
	Model     *string  `json:"model,omitempty"`
	AgentTool *string  `json:"agentTool,omitempty"`
	SkillIDs  []string `json:"skillIds,omitempty"`
}

// Apply merges the override onto a base team member, returning the effective
// record. base is not mutated.
func (o *Override) Apply(base *TeamMember) *TeamMember {
	effective := base.Clone()
	if o == nil {
		return effective
	}
	if o.Name != nil {
		effective.Name = *o.Name
	}
	if o.Identity != nil {
		effective.Identity = *o.Identity
	}
	if o.Avatar != nil {
		effective.Avatar = *o.Avatar
	}
	if o.Model != nil {
		effective.Model = *o.Model
	}
	if o.AgentTool != nil {
		effective.AgentTool = *o.AgentTool
	}
	if o.SkillIDs != nil {
		effective.SkillIDs = append([]string(nil), o.SkillIDs...)
	}
	return effective
}

// DefaultID returns the deterministic id for a project's built-in Worker or
// Coordinator default, e.g. DefaultID("proj_123", RoleWorker) ->
// "tm_proj_123_worker".
func DefaultID(projectID string, role Role) string {
	return "tm_" + projectID + "_" + string(role)
}
