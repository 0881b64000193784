package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/kandev/maestro/internal/common/apperrors"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/session/models"
	"github.com/kandev/maestro/internal/session/repository"
)

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
	return New(repo, eventBus, log)
}

func TestCreateSessionDefaultsStatusSpawning(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.CreateSession(context.Background(), CreateInput{ProjectID: "p1", Mode: models.ModeWorker})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Status != models.StatusSpawning {
		t.Fatalf("expected status spawning, got %s", session.Status)
	}
}

func TestCreateSessionRequiresProjectID(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateSession(context.Background(), CreateInput{Mode: models.ModeWorker}); err == nil {
		t.Fatalf("expected validation error for missing projectId")
	}
}

func TestUpdateStatusRejectsTransitionOutOfTerminal(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.CreateSession(context.Background(), CreateInput{ProjectID: "p1", Mode: models.ModeWorker})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := svc.UpdateStatus(context.Background(), session.ID, models.StatusCompleted); err != nil {
		t.Fatalf("transition to completed: %v", err)
	}
	_, err = svc.UpdateStatus(context.Background(), session.ID, models.StatusWorking)
	if err == nil {
		t.Fatalf("expected a terminal session to reject further transitions")
	}
	if !apperrors.Is(err, apperrors.CodeForbidden) {
		t.Fatalf("expected a FORBIDDEN error, got %v", err)
	}
	if status := apperrors.HTTPStatus(err); status != http.StatusForbidden {
		t.Fatalf("expected HTTP 403, got %d", status)
	}
}

func TestUpdateStatusSetsCompletedAtOnTerminalTransition(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.CreateSession(context.Background(), CreateInput{ProjectID: "p1", Mode: models.ModeWorker})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	updated, err := svc.UpdateStatus(context.Background(), session.ID, models.StatusFailed)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.CompletedAt == nil {
		t.Fatalf("expected completedAt to be set on transition to a terminal status")
	}
}

func TestReportAndClearNeedsInput(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.CreateSession(context.Background(), CreateInput{ProjectID: "p1", Mode: models.ModeWorker})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	reported, err := svc.ReportNeedsInput(context.Background(), session.ID, "which branch?")
	if err != nil {
		t.Fatalf("report needs input: %v", err)
	}
	if reported.NeedsInput == nil || !reported.NeedsInput.Active {
		t.Fatalf("expected needsInput to be active")
	}

	cleared, err := svc.ClearNeedsInput(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("clear needs input: %v", err)
	}
	if cleared.NeedsInput.Active {
		t.Fatalf("expected needsInput to be cleared")
	}
}

func TestRecordEventClearsNeedsInput(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.CreateSession(context.Background(), CreateInput{ProjectID: "p1", Mode: models.ModeWorker})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.ReportNeedsInput(context.Background(), session.ID, "which branch?"); err != nil {
		t.Fatalf("report needs input: %v", err)
	}

	updated, err := svc.RecordEvent(context.Background(), session.ID, "tool_call", "ran tests")
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if updated.NeedsInput.Active {
		t.Fatalf("expected a new agent event to implicitly clear needsInput")
	}
	if len(updated.Events) != 1 {
		t.Fatalf("expected one timeline event, got %d", len(updated.Events))
	}
}

func TestUnlinkTaskRemovesTaskID(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.CreateSession(context.Background(), CreateInput{ProjectID: "p1", TaskIDs: []string{"t1", "t2"}, Mode: models.ModeWorker})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := svc.UnlinkTask(context.Background(), session.ID, "t1"); err != nil {
		t.Fatalf("unlink task: %v", err)
	}

	updated, err := svc.GetSession(session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(updated.TaskIDs) != 1 || updated.TaskIDs[0] != "t2" {
		t.Fatalf("expected only t2 to remain, got %v", updated.TaskIDs)
	}
}

func TestUnlinkTaskOnMissingSessionIsANoOp(t *testing.T) {
	svc := newTestService(t)
	if err := svc.UnlinkTask(context.Background(), "missing", "t1"); err != nil {
		t.Fatalf("expected no error for a missing session, got %v", err)
	}
}

func TestDeleteSessionNotFound(t *testing.T) {
	svc := newTestService(t)
	if err := svc.DeleteSession(context.Background(), "missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestRegisterSessionCreatesThenTransitionsToWorking(t *testing.T) {
	svc := newTestService(t)

	created, err := svc.RegisterSession(context.Background(), "sess_ext")
	if err != nil {
		t.Fatalf("register session (create): %v", err)
	}
	if created.Status != models.StatusWorking {
		t.Fatalf("expected status working immediately after registration, got %s", created.Status)
	}

	if _, err := svc.UpdateStatus(context.Background(), "sess_ext", models.StatusIdle); err != nil {
		t.Fatalf("move to idle: %v", err)
	}

	reRegistered, err := svc.RegisterSession(context.Background(), "sess_ext")
	if err != nil {
		t.Fatalf("register session (re-register): %v", err)
	}
	if reRegistered.Status != models.StatusWorking {
		t.Fatalf("expected re-registration to move an idle session back to working, got %s", reRegistered.Status)
	}
}

func TestRegisterSessionLeavesTerminalSessionAlone(t *testing.T) {
	svc := newTestService(t)
	session, err := svc.CreateSession(context.Background(), CreateInput{ProjectID: "p1", Mode: models.ModeWorker})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), session.ID, models.StatusCompleted); err != nil {
		t.Fatalf("complete session: %v", err)
	}

	registered, err := svc.RegisterSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("register session: %v", err)
	}
	if registered.Status != models.StatusCompleted {
		t.Fatalf("expected a terminal session to stay completed, got %s", registered.Status)
	}
}
