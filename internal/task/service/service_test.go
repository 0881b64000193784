package service

import (
	"context"
	"testing"

	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/task/models"
	"github.com/kandev/maestro/internal/task/repository"
)

func ptr[T any](v T) *T { return &v }

type fakeProjectLookup struct{ exists bool }

func (f *fakeProjectLookup) ProjectExists(string) bool { return f.exists }

func newTestService(t *testing.T) *Service {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	eventBus := bus.NewMemoryEventBus(log)

	repo := repository.New(t.TempDir(), log)
	if err := repo.Initialize(); err != nil {
		t.Fatalf("initialize repository: %v", err)
	}
	return New(repo, &fakeProjectLookup{exists: true}, eventBus, log)
}

func TestCreateTaskRequiresKnownProject(t *testing.T) {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	eventBus := bus.NewMemoryEventBus(log)
	repo := repository.New(t.TempDir(), log)
	if err := repo.Initialize(); err != nil {
		t.Fatalf("initialize repository: %v", err)
	}
	svc := New(repo, &fakeProjectLookup{exists: false}, eventBus, log)

	_, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "t"})
	if err == nil {
		t.Fatalf("expected not-found error for unknown project")
	}
}

func TestCreateTaskDefaultsStatusTodo(t *testing.T) {
	svc := newTestService(t)
	task, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != models.StatusTodo {
		t.Fatalf("expected status todo, got %s", task.Status)
	}
	if task.SessionIDs == nil || len(task.SessionIDs) != 0 {
		t.Fatalf("expected an empty, non-nil sessionIds slice")
	}
}

func TestCreateTaskRejectsParentFromAnotherProject(t *testing.T) {
	svc := newTestService(t)
	parent, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "parent"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	_ = parent

	_, err = svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p2", Title: "child", ParentID: parent.ID})
	if err == nil {
		t.Fatalf("expected validation error for cross-project parent")
	}
}

func TestUpdateTaskSessionSourceOnlyTouchesSessionStatus(t *testing.T) {
	svc := newTestService(t)
	task, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	title := "should not apply"
	status := models.SessionStatusWorking
	updated, err := svc.UpdateTask(context.Background(), task.ID, UpdatePatch{
		Title:         &title,
		SessionStatus: &status,
	}, models.UpdateSourceSession, "sess_1")
	if err != nil {
		t.Fatalf("update task: %v", err)
	}

	if updated.Title == title {
		t.Fatalf("expected title to be left unchanged for a session-sourced update")
	}
	if updated.TaskSessionStatuses["sess_1"] != status {
		t.Fatalf("expected taskSessionStatuses[sess_1]=%s, got %v", status, updated.TaskSessionStatuses)
	}
}

func TestUpdateTaskSessionSourceRequiresSessionID(t *testing.T) {
	svc := newTestService(t)
	task, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err = svc.UpdateTask(context.Background(), task.ID, UpdatePatch{}, models.UpdateSourceSession, "")
	if err == nil {
		t.Fatalf("expected validation error when sessionId is missing")
	}
}

func TestUpdateTaskStatusTransitionAppendsTimeline(t *testing.T) {
	svc := newTestService(t)
	task, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	status := models.StatusInProgress
	updated, err := svc.UpdateTask(context.Background(), task.ID, UpdatePatch{Status: &status}, models.UpdateSourceUser, "")
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if len(updated.Timeline) != 1 {
		t.Fatalf("expected one timeline entry after a status change, got %d", len(updated.Timeline))
	}
	if updated.StartedAt == nil {
		t.Fatalf("expected startedAt to be set on transition to in_progress")
	}
}

func TestUpdateTaskRejectsUnknownSource(t *testing.T) {
	svc := newTestService(t)
	task, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	_, err = svc.UpdateTask(context.Background(), task.ID, UpdatePatch{}, models.UpdateSource("bogus"), "")
	if err == nil {
		t.Fatalf("expected validation error for an unknown update source")
	}
}

type fakeSessionUnlinker struct {
	calls []string
}

func (f *fakeSessionUnlinker) UnlinkTask(_ context.Context, sessionID, _ string) error {
	f.calls = append(f.calls, sessionID)
	return nil
}

func TestDeleteTaskUnlinksEverySession(t *testing.T) {
	svc := newTestService(t)
	unlinker := &fakeSessionUnlinker{}
	svc.SetSessionUnlinker(unlinker)

	task, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = svc.LinkSession(context.Background(), task.ID, "sess_1", models.SessionStatusWorking)
	if err != nil {
		t.Fatalf("link session: %v", err)
	}
	task, err = svc.LinkSession(context.Background(), task.ID, "sess_2", models.SessionStatusWorking)
	if err != nil {
		t.Fatalf("link session: %v", err)
	}

	if err := svc.DeleteTask(context.Background(), task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if len(unlinker.calls) != 2 {
		t.Fatalf("expected 2 unlink calls, got %d: %v", len(unlinker.calls), unlinker.calls)
	}
}

func TestGetChildrenReturnsOnlyDirectChildren(t *testing.T) {
	svc := newTestService(t)
	parent, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "parent"})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "child", ParentID: parent.ID})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	grandchild, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1", Title: "grandchild", ParentID: child.ID})
	if err != nil {
		t.Fatalf("create grandchild: %v", err)
	}
	_ = grandchild

	children := svc.GetChildren(parent.ID)
	if len(children) != 1 || children[0].ID != child.ID {
		t.Fatalf("expected exactly [child], got %v", children)
	}
}
