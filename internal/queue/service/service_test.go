package service

import (
	"context"
	"testing"

	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/queue/models"
	"github.com/kandev/maestro/internal/queue/repository"
	taskmodels "github.com/kandev/maestro/internal/task/models"
)

type fakeTaskStatusUpdater struct {
	calls []taskmodels.SessionStatus
}

func (f *fakeTaskStatusUpdater) SetSessionStatus(_ context.Context, _, _ string, status taskmodels.SessionStatus) error {
	f.calls = append(f.calls, status)
	return nil
}

func newTestService(t *testing.T, tasks TaskStatusUpdater) *Service {
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
	return New(repo, tasks, eventBus, log)
}

func TestPushAssignsIncreasingPositions(t *testing.T) {
	svc := newTestService(t, nil)

	first, err := svc.Push("sess_1", "task_1")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	second, err := svc.Push("sess_1", "task_2")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Fatalf("expected positions 0,1 got %d,%d", first.Position, second.Position)
	}
}

func TestTopReturnsFirstQueuedItem(t *testing.T) {
	svc := newTestService(t, nil)
	first, err := svc.Push("sess_1", "task_1")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := svc.Push("sess_1", "task_2"); err != nil {
		t.Fatalf("push: %v", err)
	}

	top := svc.Top("sess_1")
	if top == nil || top.ID != first.ID {
		t.Fatalf("expected top to be the first pushed item, got %v", top)
	}
}

func TestStartRefusesSecondConcurrentProcessingItem(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Push("sess_1", "task_1"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := svc.Push("sess_1", "task_2"); err != nil {
		t.Fatalf("push: %v", err)
	}

	if _, err := svc.Start(context.Background(), "sess_1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := svc.Start(context.Background(), "sess_1"); err == nil {
		t.Fatalf("expected a second Start to be rejected while one item is processing")
	}
}

func TestStartSyncsTaskSessionStatusToWorking(t *testing.T) {
	tasks := &fakeTaskStatusUpdater{}
	svc := newTestService(t, tasks)
	if _, err := svc.Push("sess_1", "task_1"); err != nil {
		t.Fatalf("push: %v", err)
	}

	if _, err := svc.Start(context.Background(), "sess_1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(tasks.calls) != 1 || tasks.calls[0] != taskmodels.SessionStatusWorking {
		t.Fatalf("expected one SetSessionStatus(working) call, got %v", tasks.calls)
	}
}

func TestCompleteTransitionsProcessingItem(t *testing.T) {
	tasks := &fakeTaskStatusUpdater{}
	svc := newTestService(t, tasks)
	if _, err := svc.Push("sess_1", "task_1"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := svc.Start(context.Background(), "sess_1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	completed, err := svc.Complete(context.Background(), "sess_1", "task_1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != models.StatusCompleted {
		t.Fatalf("expected status completed, got %s", completed.Status)
	}
	if tasks.calls[len(tasks.calls)-1] != taskmodels.SessionStatusCompleted {
		t.Fatalf("expected the final SetSessionStatus call to be completed, got %v", tasks.calls)
	}
}

func TestCompleteWithoutAProcessingItemFails(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Complete(context.Background(), "sess_1", "task_1"); err == nil {
		t.Fatalf("expected an error when no item is processing")
	}
}

func TestFailRecordsReason(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Push("sess_1", "task_1"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := svc.Start(context.Background(), "sess_1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	failed, err := svc.Fail(context.Background(), "sess_1", "task_1", "agent crashed")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != models.StatusFailed {
		t.Fatalf("expected status failed, got %s", failed.Status)
	}
}

func TestDeleteSessionQueueRemovesItems(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Push("sess_1", "task_1"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := svc.DeleteSessionQueue("sess_1"); err != nil {
		t.Fatalf("delete session queue: %v", err)
	}
	if items := svc.List("sess_1"); len(items) != 0 {
		t.Fatalf("expected an empty queue after delete, got %v", items)
	}
}
