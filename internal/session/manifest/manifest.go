// Package manifest composes the spawn-time manifest document an agent reads
// at startup: a system envelope (identity, permissions, roster) and a task
// envelope (what to work on), per spec §4.4.
package manifest

import (
	"sort"

	sessionmodels "github.com/kandev/maestro/internal/session/models"
	taskmodels "github.com/kandev/maestro/internal/task/models"
)

// coreCommands are always available, regardless of mode or narrowing.
var coreCommands = []string{"identity", "status", "help"}

// roleDefaults is the base permission set per mode.
var roleDefaults = map[sessionmodels.Mode][]string{
	sessionmodels.ModeWorker:      {"task:read", "task:report", "session:report", "message:send", "message:inbox"},
	sessionmodels.ModeCoordinator: {"task:read", "task:report", "session:report", "message:send", "message:inbox", "team:list"},
}

// modeExtensions are additional commands only that mode may invoke.
var modeExtensions = map[sessionmodels.Mode][]string{
	sessionmodels.ModeWorker:      {},
	sessionmodels.ModeCoordinator: {"session:spawn"},
}

// RosterEntry describes a delegation target for a coordinator.
type RosterEntry struct {
	TeamMemberID string `json:"teamMemberId"`
	Name         string `json:"name"`
	Role         string `json:"role"`
}

// TeamMemberIdentity is included only when the session uses a non-default
// team member.
type TeamMemberIdentity struct {
	Name     string `json:"name"`
	Identity string `json:"identity"`
}

// SpawnInstructions tells a coordinator the exact shape of the command to
// delegate a subtask to a named team member.
type SpawnInstructions struct {
	CommandTemplate string `json:"commandTemplate"`
}

// SystemEnvelope is the identity/permission half of the manifest.
type SystemEnvelope struct {
	ModeIdentity       string              `json:"modeIdentity"`
	TeamMemberIdentity *TeamMemberIdentity `json:"teamMemberIdentity,omitempty"`
	Model              string              `json:"model"`
	AgentTool          string              `json:"agentTool"`
	AllowedCommands    []string            `json:"allowedCommands"`
	CoordinatorRoster  []RosterEntry       `json:"coordinatorRoster,omitempty"`
	MCPEndpoint        string              `json:"mcpEndpoint,omitempty"`
}

// TaskEntry is one task as presented to the agent.
type TaskEntry struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

// TaskEnvelope is the work-assignment half of the manifest.
type TaskEnvelope struct {
	Tasks             []TaskEntry        `json:"tasks"`
	SpawnInstructions *SpawnInstructions `json:"spawnInstructions,omitempty"`
}

// Manifest is the full spawn-time document written to the session's
// manifest file and handed to the agent via MAESTRO_MANIFEST_PATH.
type Manifest struct {
	SessionID string             `json:"sessionId"`
	Mode      sessionmodels.Mode `json:"mode"`
	System    SystemEnvelope     `json:"system"`
	Task      TaskEnvelope       `json:"task"`
}

func modeIdentity(mode sessionmodels.Mode) string {
	if mode == sessionmodels.ModeCoordinator {
		return "You are a coordinator. You break work into subtasks and delegate them to worker sessions; you do not implement tasks yourself."
	}
	return "You are a worker. You implement the assigned task directly and report your status as you progress."
}

// Resolve computes the effective permission set for a mode: the role
// default set, unioned with mode-specific extensions, narrowed by an
// explicit allowedCommands list if one is given, with core commands always
// present regardless of narrowing. The result is sorted for determinism.
func Resolve(mode sessionmodels.Mode, explicitAllowed []string) []string {
	union := make(map[string]struct{})
	for _, cmd := range roleDefaults[mode] {
		union[cmd] = struct{}{}
	}
	for _, cmd := range modeExtensions[mode] {
		union[cmd] = struct{}{}
	}

	if len(explicitAllowed) > 0 {
		allowed := make(map[string]struct{}, len(explicitAllowed))
		for _, cmd := range explicitAllowed {
			allowed[cmd] = struct{}{}
		}
		for cmd := range union {
			if _, ok := allowed[cmd]; !ok {
				delete(union, cmd)
			}
		}
	}

	for _, cmd := range coreCommands {
		union[cmd] = struct{}{}
	}

	out := make([]string, 0, len(union))
	for cmd := range union {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// Composer builds manifest documents.
type Composer struct{}

// NewComposer constructs a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Compose builds the manifest for a session. tasks must already be filtered
// to the session's taskIds, in any order (they are sorted by id here for
// determinism). roster is ignored unless mode is coordinator.
// explicitAllowed is the manifest-level allowedCommands narrowing list, if
// any was requested at spawn time. mcpEndpoint is the session's dedicated
// MCP server URL, empty when none was started (e.g. in tests).
func (c *Composer) Compose(
	sessionID string,
	mode sessionmodels.Mode,
	tasks []*taskmodels.Task,
	snapshot *sessionmodels.TeamMemberSnapshot,
	isDefaultTeamMember bool,
	roster []RosterEntry,
	explicitAllowed []string,
	model string,
	agentTool string,
	mcpEndpoint string,
) *Manifest {
	sortedTasks := append([]*taskmodels.Task(nil), tasks...)
	sort.Slice(sortedTasks, func(i, j int) bool { return sortedTasks[i].ID < sortedTasks[j].ID })

	taskEntries := make([]TaskEntry, 0, len(sortedTasks))
	for _, t := range sortedTasks {
		deps := append([]string(nil), t.Dependencies...)
		sort.Strings(deps)
		criteria := append([]string(nil), t.AcceptanceCriteria...)
		taskEntries = append(taskEntries, TaskEntry{
			ID:                 t.ID,
			Title:              t.Title,
			Description:        t.Description,
			AcceptanceCriteria: criteria,
			Dependencies:       deps,
		})
	}

	system := SystemEnvelope{
		ModeIdentity:    modeIdentity(mode),
		Model:           model,
		AgentTool:       agentTool,
		AllowedCommands: Resolve(mode, explicitAllowed),
		MCPEndpoint:     mcpEndpoint,
	}
	if snapshot != nil && !isDefaultTeamMember {
		system.TeamMemberIdentity = &TeamMemberIdentity{Name: snapshot.Name, Identity: snapshot.Identity}
	}

	var taskEnvelope TaskEnvelope
	taskEnvelope.Tasks = taskEntries
	if mode == sessionmodels.ModeCoordinator {
		sortedRoster := append([]RosterEntry(nil), roster...)
		sort.Slice(sortedRoster, func(i, j int) bool { return sortedRoster[i].TeamMemberID < sortedRoster[j].TeamMemberID })
		system.CoordinatorRoster = sortedRoster
		taskEnvelope.SpawnInstructions = &SpawnInstructions{
			CommandTemplate: "session spawn --mode worker --team-member <teamMemberId> --task <taskId>",
		}
	}

	return &Manifest{
		SessionID: sessionID,
		Mode:      mode,
		System:    system,
		Task:      taskEnvelope,
	}
}
