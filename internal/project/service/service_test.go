package service

import (
	"context"
	"testing"

	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/project/repository"
)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*Service, bus.EventBus) {
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
	return New(repo, eventBus, log), eventBus
}

func TestCreateProjectValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateProjectInput
		wantErr bool
	}{
		{name: "missing name", in: CreateProjectInput{WorkingDir: "/tmp"}, wantErr: true},
		{name: "missing working dir", in: CreateProjectInput{Name: "p"}, wantErr: true},
		{name: "valid", in: CreateProjectInput{Name: "p", WorkingDir: "/tmp"}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, err := svc.CreateProject(context.Background(), tt.in)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateProjectPublishesEvent(t *testing.T) {
	svc, eventBus := newTestService(t)

	received := make(chan string, 1)
	sub, err := eventBus.Subscribe("project.>", func(_ context.Context, evt *bus.Event) error {
		received <- evt.Type
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	project, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: "p", WorkingDir: "/tmp"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if project.ID == "" {
		t.Fatalf("expected a generated id")
	}

	select {
	case eventType := <-received:
		if eventType != "project:created" {
			t.Fatalf("expected project:created, got %s", eventType)
		}
	default:
		t.Fatalf("expected project:created to be published synchronously")
	}
}

func TestGetProjectNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.GetProject("missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestUpdateProjectPartial(t *testing.T) {
	svc, _ := newTestService(t)
	project, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: "p", WorkingDir: "/tmp", DefaultModel: "gpt"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	updated, err := svc.UpdateProject(context.Background(), project.ID, UpdateProjectInput{WorkingDir: ptr("/new")})
	if err != nil {
		t.Fatalf("update project: %v", err)
	}
	if updated.WorkingDir != "/new" {
		t.Fatalf("expected workingDir /new, got %s", updated.WorkingDir)
	}
	if updated.Name != "p" {
		t.Fatalf("expected name to be left unchanged, got %s", updated.Name)
	}
	if updated.DefaultModel != "gpt" {
		t.Fatalf("expected defaultModel to be left unchanged, got %s", updated.DefaultModel)
	}
}

func TestUpdateProjectRejectsEmptyName(t *testing.T) {
	svc, _ := newTestService(t)
	project, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: "p", WorkingDir: "/tmp"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	if _, err := svc.UpdateProject(context.Background(), project.ID, UpdateProjectInput{Name: ptr("")}); err == nil {
		t.Fatalf("expected validation error for empty name")
	}
}

type fakeCascade struct {
	calledWith string
	err        error
}

func (f *fakeCascade) DeleteProjectData(_ context.Context, projectID string) error {
	f.calledWith = projectID
	return f.err
}

func TestDeleteProjectInvokesCascadeAfterEmittingProjectDeleted(t *testing.T) {
	svc, eventBus := newTestService(t)
	cascade := &fakeCascade{}
	svc.SetCascade(cascade)

	project, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: "p", WorkingDir: "/tmp"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	received := make(chan struct{}, 1)
	_, err = eventBus.Subscribe(events.ProjectSubject(project.ID), func(_ context.Context, ev *bus.Event) error {
		if ev.Type == events.ProjectDeleted {
			// The cascade must not have run yet when project:deleted fires.
			if cascade.calledWith != "" {
				t.Errorf("expected project:deleted to precede the cascade, but cascade already ran for %s", cascade.calledWith)
			}
			received <- struct{}{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := svc.DeleteProject(context.Background(), project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	select {
	case <-received:
	default:
		t.Fatalf("expected project:deleted to have been published")
	}
	if cascade.calledWith != project.ID {
		t.Fatalf("expected cascade to be called with %s, got %s", project.ID, cascade.calledWith)
	}
	if _, err := svc.GetProject(project.ID); err == nil {
		t.Fatalf("expected project to be gone after delete")
	}
}

func TestDeleteProjectWithoutCascadeStillRemovesRecord(t *testing.T) {
	svc, _ := newTestService(t)
	project, err := svc.CreateProject(context.Background(), CreateProjectInput{Name: "p", WorkingDir: "/tmp"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	if err := svc.DeleteProject(context.Background(), project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
}

func TestDeleteProjectNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.DeleteProject(context.Background(), "missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}
