package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kandev/maestro/internal/common/logger"
	messagemodels "github.com/kandev/maestro/internal/message/models"
	sessionmodels "github.com/kandev/maestro/internal/session/models"
	"github.com/kandev/maestro/internal/session/spawn"
	taskmodels "github.com/kandev/maestro/internal/task/models"
)

type fakeDeps struct {
	statusCalls int
	eventCalls  int
	sendCalls   int
	spawnCalls  int
}

func (f *fakeDeps) SetSessionStatus(_ context.Context, _, _ string, _ taskmodels.SessionStatus) error {
	f.statusCalls++
	return nil
}

func (f *fakeDeps) RecordEvent(_ context.Context, sessionID, _, _ string) (*sessionmodels.Session, error) {
	f.eventCalls++
	return &sessionmodels.Session{ID: sessionID}, nil
}

func (f *fakeDeps) SendMessage(_ context.Context, _, _, _ string, _ messagemodels.Metadata) (*messagemodels.Message, error) {
	f.sendCalls++
	return &messagemodels.Message{ID: "msg_1"}, nil
}

func (f *fakeDeps) Spawn(_ context.Context, _ spawn.Request) (*spawn.Result, error) {
	f.spawnCalls++
	return &spawn.Result{SessionID: "sess_child"}, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log
}

func TestStartThenStopLifecycle(t *testing.T) {
	srv := New(Config{SessionID: "sess_1", Mode: sessionmodels.ModeWorker, AllowedCommands: []string{"task:report"}}, &fakeDeps{}, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	endpoint := srv.StreamableHTTPEndpoint()
	if !strings.HasPrefix(endpoint, "http://localhost:") || !strings.HasSuffix(endpoint, "/mcp") {
		t.Fatalf("unexpected endpoint shape: %q", endpoint)
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	srv := New(Config{SessionID: "sess_1", Mode: sessionmodels.ModeWorker}, &fakeDeps{}, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer srv.Stop(context.Background())

	if err := srv.Start(ctx); err == nil {
		t.Fatalf("expected a second Start on the same server to be rejected")
	}
}

func TestStopWithoutStartIsANoOp(t *testing.T) {
	srv := New(Config{SessionID: "sess_1", Mode: sessionmodels.ModeWorker}, &fakeDeps{}, newTestLogger(t))
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("expected stop before start to be a no-op, got %v", err)
	}
}

func TestRequirePermissionRejectsUngrantedPermission(t *testing.T) {
	allowed := map[string]bool{"task:report": true}
	if err := requirePermission(allowed, "task:report"); err != nil {
		t.Fatalf("expected a granted permission to pass, got %v", err)
	}
	if err := requirePermission(allowed, "session:spawn"); err == nil {
		t.Fatalf("expected an ungranted permission to fail")
	}
}

func TestRegisterToolsHandlesEmptyPermissionSetWithoutPanicking(t *testing.T) {
	srv := New(Config{SessionID: "sess_1", Mode: sessionmodels.ModeWorker, AllowedCommands: nil}, &fakeDeps{}, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start with an empty permission set: %v", err)
	}
	defer srv.Stop(context.Background())
}

func TestRegisterToolsHandlesFullPermissionSetWithoutPanicking(t *testing.T) {
	srv := New(Config{
		SessionID:       "sess_1",
		Mode:            sessionmodels.ModeCoordinator,
		AllowedCommands: []string{"task:report", "session:report", "message:send", "session:spawn"},
	}, &fakeDeps{}, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start with a full permission set: %v", fmt.Errorf("%w", err))
	}
	defer srv.Stop(context.Background())
}
