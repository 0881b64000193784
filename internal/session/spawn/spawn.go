// Package spawn implements the SpawnCoordinator: the nine-step protocol
// that resolves a team member, creates a session, links it to its tasks,
// composes the manifest, and emits the events an external launcher needs to
// actually start the agent process (spec §4.3).
package spawn

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/idgen"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
	projectmodels "github.com/kandev/maestro/internal/project/models"
	"github.com/kandev/maestro/internal/session/manifest"
	sessionmodels "github.com/kandev/maestro/internal/session/models"
	taskmodels "github.com/kandev/maestro/internal/task/models"
	teammembermodels "github.com/kandev/maestro/internal/teammember/models"
)

const (
	fallbackModel     = "default-model"
	fallbackAgentTool = "default-agent-tool"
)

// ProjectLookup resolves a project for spawn-request validation.
type ProjectLookup interface {
	GetProject(id string) (*projectmodels.Project, error)
}

// TaskLinker resolves and links the tasks a spawn request targets.
type TaskLinker interface {
	GetTasksByIDs(ids []string) []*taskmodels.Task
	LinkSession(ctx context.Context, taskID, sessionID string, initialStatus taskmodels.SessionStatus) (*taskmodels.Task, error)
}

// TeamMemberResolver resolves the effective team member for a spawn request.
type TeamMemberResolver interface {
	GetEffective(id string) (*teammembermodels.TeamMember, error)
	ListEffective(projectID string) []*teammembermodels.TeamMember
}

// SessionWriter is the subset of the session service the coordinator needs:
// persist-without-publish, deferred event emission, and manifest writing.
type SessionWriter interface {
	Save(session *sessionmodels.Session) error
	Emit(ctx context.Context, eventType string, session *sessionmodels.Session)
	WriteManifest(sessionID string, m interface{}) (string, error)
}

// MCPStarter starts the session's dedicated MCP server, scoped to its
// resolved permission set, and returns the endpoint an agent process should
// connect to. Optional: a Coordinator with no MCPStarter set composes
// manifests with an empty MCPEndpoint (e.g. in tests).
type MCPStarter interface {
	StartSessionMCP(ctx context.Context, sessionID string, mode sessionmodels.Mode, allowedCommands []string) (endpoint string, err error)
}

// Request carries everything a caller may specify for a spawn.
type Request struct {
	ProjectID       string
	TaskIDs         []string
	Name            string
	Mode            sessionmodels.Mode
	TeamMemberID    string
	Model           string
	AgentTool       string
	AllowedCommands []string
	Source          sessionmodels.Source
}

// Result is the protocol's return value (§4.3 step 9; §6 spawn response).
type Result struct {
	SessionID      string
	ManifestPath   string
	Manifest       *manifest.Manifest
	EnvVars        map[string]string
	InitialCommand string
}

// Coordinator implements spawnSession end-to-end.
type Coordinator struct {
	projects    ProjectLookup
	tasks       TaskLinker
	teamMembers TeamMemberResolver
	sessions    SessionWriter
	composer    *manifest.Composer
	bus         bus.EventBus
	logger      *logger.Logger
	tracer      trace.Tracer
	mcpStarter  MCPStarter
}

// SetMCPStarter wires the per-session MCP server lifecycle. Called once at
// composition-root startup, mirroring project.Service.SetCascade and
// task.Service.SetSessionUnlinker.
func (c *Coordinator) SetMCPStarter(starter MCPStarter) {
	c.mcpStarter = starter
}

// New constructs a Coordinator.
func New(projects ProjectLookup, tasks TaskLinker, teamMembers TeamMemberResolver, sessions SessionWriter, eventBus bus.EventBus, log *logger.Logger) *Coordinator {
	return &Coordinator{
		projects:    projects,
		tasks:       tasks,
		teamMembers: teamMembers,
		sessions:    sessions,
		composer:    manifest.NewComposer(),
		bus:         eventBus,
		logger:      log,
		tracer:      otel.Tracer("maestro/session/spawn"),
	}
}

// Spawn runs the full nine-step protocol.
func (c *Coordinator) Spawn(ctx context.Context, req Request) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "spawn.Spawn", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.String("mode", string(req.Mode)),
	))
	defer span.End()

	// Step 1: validate project and tasks.
	if req.ProjectID == "" {
		return nil, apperrors.Validation("projectId is required")
	}
	project, err := c.projects.GetProject(req.ProjectID)
	if err != nil {
		return nil, err
	}
	tasks := c.tasks.GetTasksByIDs(req.TaskIDs)
	if len(tasks) != len(req.TaskIDs) {
		return nil, apperrors.Validation("one or more taskIds do not exist")
	}
	for _, t := range tasks {
		if t.ProjectID != req.ProjectID {
			return nil, apperrors.Validation(fmt.Sprintf("task %s does not belong to project %s", t.ID, req.ProjectID))
		}
	}
	if req.Mode != sessionmodels.ModeWorker && req.Mode != sessionmodels.ModeCoordinator {
		return nil, apperrors.Validation("mode must be \"worker\" or \"coordinator\"")
	}

	// Step 2: resolve the team member.
	teamMemberID := req.TeamMemberID
	if teamMemberID == "" {
		teamMemberID = teammembermodels.DefaultID(req.ProjectID, teammembermodels.Role(req.Mode))
	}
	teamMember, err := c.teamMembers.GetEffective(teamMemberID)
	if err != nil {
		return nil, err
	}

	// Step 3: compose teamMemberSnapshot, frozen from here on (invariant 5).
	snapshot := &sessionmodels.TeamMemberSnapshot{
		TeamMemberID: teamMember.ID,
		Name:         teamMember.Name,
		Role:         string(teamMember.Role),
		Identity:     teamMember.Identity,
		Avatar:       teamMember.Avatar,
		Model:        teamMember.Model,
		AgentTool:    teamMember.AgentTool,
		SkillIDs:     append([]string(nil), teamMember.SkillIDs...),
	}

	// Step 4: resolve effective model/agentTool by priority.
	var firstTaskModel, firstTaskAgentTool string
	if len(tasks) > 0 {
		firstTaskModel = tasks[0].Model
		firstTaskAgentTool = tasks[0].AgentTool
	}
	model := firstNonEmpty(req.Model, teamMember.Model, firstTaskModel, project.DefaultModel, fallbackModel)
	agentTool := firstNonEmpty(req.AgentTool, teamMember.AgentTool, firstTaskAgentTool, project.DefaultAgentTool, fallbackAgentTool)

	// Step 5: create the session record.
	now := time.Now().UTC()
	sessionID := idgen.New(idgen.Session)
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s session", req.Mode)
	}
	session := &sessionmodels.Session{
		ID:                 sessionID,
		ProjectID:          req.ProjectID,
		TaskIDs:            append([]string(nil), req.TaskIDs...),
		Name:               name,
		Status:             sessionmodels.StatusSpawning,
		Mode:               req.Mode,
		StartedAt:          now,
		LastActivity:       now,
		Env:                map[string]string{},
		Events:             []sessionmodels.TimelineEvent{},
		TeamMemberID:       teamMember.ID,
		TeamMemberSnapshot: snapshot,
		Model:              model,
		AgentTool:          agentTool,
	}
	if err := c.sessions.Save(session); err != nil {
		return nil, err
	}

	// Step 6: link tasks <-> session.
	initialStatus := taskmodels.SessionStatusQueued
	if req.Mode == sessionmodels.ModeWorker && len(tasks) == 1 {
		initialStatus = taskmodels.SessionStatusWorking
	}
	for _, t := range tasks {
		if _, err := c.tasks.LinkSession(ctx, t.ID, sessionID, initialStatus); err != nil {
			return &Result{SessionID: sessionID}, err
		}
	}

	// Step 7: compose and write the manifest.
	var roster []manifest.RosterEntry
	if req.Mode == sessionmodels.ModeCoordinator {
		for _, m := range c.teamMembers.ListEffective(req.ProjectID) {
			roster = append(roster, manifest.RosterEntry{TeamMemberID: m.ID, Name: m.Name, Role: string(m.Role)})
		}
	}
	var mcpEndpoint string
	if c.mcpStarter != nil {
		resolvedCommands := manifest.Resolve(req.Mode, req.AllowedCommands)
		endpoint, err := c.mcpStarter.StartSessionMCP(ctx, sessionID, req.Mode, resolvedCommands)
		if err != nil {
			c.logger.Error("failed to start session mcp server", zap.String("session_id", sessionID), zap.Error(err))
		} else {
			mcpEndpoint = endpoint
		}
	}

	manifestDoc := c.composer.Compose(sessionID, req.Mode, tasks, snapshot, teamMember.IsDefault, roster, req.AllowedCommands, model, agentTool, mcpEndpoint)
	manifestPath, err := c.sessions.WriteManifest(sessionID, manifestDoc)
	if err != nil {
		return &Result{SessionID: sessionID}, err
	}

	// Step 8: emit session:created, task:updated (already emitted by
	// LinkSession per task), and session:spawn when the source represents a
	// launch intent.
	c.sessions.Emit(ctx, events.SessionCreated, session)

	envVars := map[string]string{
		"MAESTRO_SESSION_ID":    sessionID,
		"MAESTRO_PROJECT_ID":    req.ProjectID,
		"MAESTRO_MANIFEST_PATH": manifestPath,
		"MAESTRO_TASK_IDS":      joinIDs(req.TaskIDs),
	}
	initialCommand := fmt.Sprintf("maestro-agent --manifest %s", manifestPath)

	if req.Source == sessionmodels.SourceUI || req.Source == sessionmodels.SourceSession {
		spawnPayload := events.SessionSpawnPayload{
			SessionID:    sessionID,
			TeamMemberID: teamMember.ID,
			ManifestPath: manifestPath,
		}
		if len(req.TaskIDs) > 0 {
			spawnPayload.TaskID = req.TaskIDs[0]
		}
		spawnEvent := bus.NewEvent(events.SessionSpawn, "session", events.ToData(spawnPayload))
		if err := c.bus.Publish(ctx, events.SessionSubject(sessionID), spawnEvent); err != nil {
			c.logger.Error("failed to publish session:spawn", zap.Error(err))
		}
	}

	// Step 9: return the result.
	return &Result{
		SessionID:      sessionID,
		ManifestPath:   manifestPath,
		Manifest:       manifestDoc,
		EnvVars:        envVars,
		InitialCommand: initialCommand,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
