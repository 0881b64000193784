package spawn

import (
	"context"
	"testing"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events/bus"
	projectmodels "github.com/kandev/maestro/internal/project/models"
	sessionmodels "github.com/kandev/maestro/internal/session/models"
	taskmodels "github.com/kandev/maestro/internal/task/models"
	teammembermodels "github.com/kandev/maestro/internal/teammember/models"
)

type fakeProjects struct {
	project *projectmodels.Project
}

func (f *fakeProjects) GetProject(id string) (*projectmodels.Project, error) {
	if f.project == nil || f.project.ID != id {
		return nil, apperrors.NotFound("project", id)
	}
	return f.project, nil
}

type fakeTasks struct {
	tasks       map[string]*taskmodels.Task
	linkedTasks []string
	linkErr     error
}

func (f *fakeTasks) GetTasksByIDs(ids []string) []*taskmodels.Task {
	out := make([]*taskmodels.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := f.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeTasks) LinkSession(_ context.Context, taskID, _ string, _ taskmodels.SessionStatus) (*taskmodels.Task, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.linkedTasks = append(f.linkedTasks, taskID)
	return f.tasks[taskID], nil
}

type fakeTeamMembers struct {
	members map[string]*teammembermodels.TeamMember
}

func (f *fakeTeamMembers) GetEffective(id string) (*teammembermodels.TeamMember, error) {
	m, ok := f.members[id]
	if !ok {
		return nil, apperrors.NotFound("team member", id)
	}
	return m, nil
}

func (f *fakeTeamMembers) ListEffective(projectID string) []*teammembermodels.TeamMember {
	out := make([]*teammembermodels.TeamMember, 0, len(f.members))
	for _, m := range f.members {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out
}

type fakeSessionWriter struct {
	saved        []*sessionmodels.Session
	emittedTypes []string
	manifests    map[string]interface{}
}

func (f *fakeSessionWriter) Save(s *sessionmodels.Session) error {
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeSessionWriter) Emit(_ context.Context, eventType string, _ *sessionmodels.Session) {
	f.emittedTypes = append(f.emittedTypes, eventType)
}

func (f *fakeSessionWriter) WriteManifest(sessionID string, m interface{}) (string, error) {
	if f.manifests == nil {
		f.manifests = make(map[string]interface{})
	}
	f.manifests[sessionID] = m
	return "/data/sessions/" + sessionID + "/manifest.json", nil
}

type fakeMCPStarter struct {
	endpoint string
	err      error
	calls    int
}

func (f *fakeMCPStarter) StartSessionMCP(_ context.Context, _ string, _ sessionmodels.Mode, _ []string) (string, error) {
	f.calls++
	return f.endpoint, f.err
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeTasks, *fakeSessionWriter, *fakeTeamMembers) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	eventBus := bus.NewMemoryEventBus(log)

	projects := &fakeProjects{project: &projectmodels.Project{ID: "p1", DefaultModel: "project-model"}}
	tasks := &fakeTasks{tasks: map[string]*taskmodels.Task{
		"t1": {ID: "t1", ProjectID: "p1", Title: "Task one"},
	}}
	teamMembers := &fakeTeamMembers{members: map[string]*teammembermodels.TeamMember{
		teammembermodels.DefaultID("p1", teammembermodels.RoleWorker): {
			ID: teammembermodels.DefaultID("p1", teammembermodels.RoleWorker), ProjectID: "p1",
			Name: "Worker", Role: teammembermodels.RoleWorker, IsDefault: true,
		},
	}}
	sessions := &fakeSessionWriter{}

	return New(projects, tasks, teamMembers, sessions, eventBus, log), tasks, sessions, teamMembers
}

func TestSpawnRequiresProjectID(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	_, err := c.Spawn(context.Background(), Request{Mode: sessionmodels.ModeWorker})
	if err == nil {
		t.Fatalf("expected validation error for missing projectId")
	}
}

func TestSpawnRejectsUnknownTaskID(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	_, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"missing"}, Mode: sessionmodels.ModeWorker})
	if err == nil {
		t.Fatalf("expected validation error for an unknown task id")
	}
}

func TestSpawnRejectsTaskFromAnotherProject(t *testing.T) {
	c, tasks, _, _ := newTestCoordinator(t)
	tasks.tasks["t2"] = &taskmodels.Task{ID: "t2", ProjectID: "p2", Title: "Other project task"}

	_, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t2"}, Mode: sessionmodels.ModeWorker})
	if err == nil {
		t.Fatalf("expected validation error for a cross-project task")
	}
}

func TestSpawnReturnsSessionIDInResultWhenLinkingFailsAfterSessionIsCreated(t *testing.T) {
	c, tasks, sessions, _ := newTestCoordinator(t)
	tasks.linkErr = apperrors.Internal("link failed", nil)

	result, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker})
	if err == nil {
		t.Fatalf("expected an error when task linking fails")
	}
	if result == nil || result.SessionID == "" {
		t.Fatalf("expected a partial result carrying the already-created session id, got %+v", result)
	}
	if len(sessions.saved) != 1 || sessions.saved[0].ID != result.SessionID {
		t.Fatalf("expected the result's session id to match the session that was already persisted")
	}
}

func TestSpawnLinksEveryRequestedTask(t *testing.T) {
	c, tasks, _, _ := newTestCoordinator(t)
	result, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if len(tasks.linkedTasks) != 1 || tasks.linkedTasks[0] != "t1" {
		t.Fatalf("expected t1 to be linked, got %v", tasks.linkedTasks)
	}
	if result.SessionID == "" {
		t.Fatalf("expected a generated session id")
	}
}

func TestSpawnResolvesModelByPriority(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	result, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if result.Manifest.System.Model != "project-model" {
		t.Fatalf("expected the project default model to win absent any override, got %q", result.Manifest.System.Model)
	}

	explicit, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker, Model: "explicit-model"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if explicit.Manifest.System.Model != "explicit-model" {
		t.Fatalf("expected an explicit model request to win, got %q", explicit.Manifest.System.Model)
	}
}

func TestSpawnWithoutMCPStarterLeavesEndpointEmpty(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	result, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if result.Manifest.System.MCPEndpoint != "" {
		t.Fatalf("expected an empty mcpEndpoint without an MCPStarter, got %q", result.Manifest.System.MCPEndpoint)
	}
}

func TestSpawnWithMCPStarterCarriesEndpointIntoManifest(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	starter := &fakeMCPStarter{endpoint: "http://127.0.0.1:9009/mcp"}
	c.SetMCPStarter(starter)

	result, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if starter.calls != 1 {
		t.Fatalf("expected MCPStarter to be called exactly once, got %d", starter.calls)
	}
	if result.Manifest.System.MCPEndpoint != starter.endpoint {
		t.Fatalf("expected mcpEndpoint %q, got %q", starter.endpoint, result.Manifest.System.MCPEndpoint)
	}
}

func TestSpawnSucceedsEvenWhenMCPStarterFails(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	starter := &fakeMCPStarter{err: apperrors.Internal("boom", nil)}
	c.SetMCPStarter(starter)

	result, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker})
	if err != nil {
		t.Fatalf("expected spawn to succeed even if the mcp server fails to start, got %v", err)
	}
	if result.Manifest.System.MCPEndpoint != "" {
		t.Fatalf("expected an empty mcpEndpoint when the starter errors, got %q", result.Manifest.System.MCPEndpoint)
	}
}

func TestSpawnOnlyEmitsSpawnEventForLaunchSources(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	eventBus := bus.NewMemoryEventBus(log)

	received := make(chan string, 1)
	sub, err := eventBus.Subscribe("session.>", func(_ context.Context, evt *bus.Event) error {
		if evt.Type == "session:spawn" {
			received <- evt.Type
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	projects := &fakeProjects{project: &projectmodels.Project{ID: "p1"}}
	tasks := &fakeTasks{tasks: map[string]*taskmodels.Task{"t1": {ID: "t1", ProjectID: "p1", Title: "t"}}}
	teamMembers := &fakeTeamMembers{members: map[string]*teammembermodels.TeamMember{
		teammembermodels.DefaultID("p1", teammembermodels.RoleWorker): {
			ID: teammembermodels.DefaultID("p1", teammembermodels.RoleWorker), ProjectID: "p1", Name: "Worker", Role: teammembermodels.RoleWorker, IsDefault: true,
		},
	}}
	sessions := &fakeSessionWriter{}
	c := New(projects, tasks, teamMembers, sessions, eventBus, log)

	if _, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker, Source: sessionmodels.SourceAPI}); err != nil {
		t.Fatalf("spawn (api source): %v", err)
	}
	select {
	case <-received:
		t.Fatalf("expected no session:spawn for an API-sourced plain spawn")
	default:
	}

	if _, err := c.Spawn(context.Background(), Request{ProjectID: "p1", TaskIDs: []string{"t1"}, Mode: sessionmodels.ModeWorker, Source: sessionmodels.SourceUI}); err != nil {
		t.Fatalf("spawn (ui source): %v", err)
	}
	select {
	case eventType := <-received:
		if eventType != "session:spawn" {
			t.Fatalf("expected session:spawn, got %s", eventType)
		}
	default:
		t.Fatalf("expected session:spawn to be published for a UI-sourced spawn")
	}
}
