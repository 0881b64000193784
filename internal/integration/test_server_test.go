// Package integration drives the whole server through its real HTTP and
// WebSocket surface, the way a UI client or a spawned agent would.
package integration

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/kandev/maestro/internal/common/config"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/server"
)

// testServer wraps an httptest.Server fronting a fully wired Server, plus
// the hub goroutine every WebSocket test needs running.
type testServer struct {
	HTTP *httptest.Server
	srv  *server.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Data:    config.DataConfig{Dir: t.TempDir()},
		Spawn:   config.SpawnConfig{MaxActivePerTask: 5, DefaultTimeoutSeconds: 3600},
		Message: config.MessageConfig{TTLSeconds: 72 * 3600, RateLimitPerMinute: 60, SweepIntervalSeconds: 0},
		Logging: config.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"},
		Server:  config.ServerConfig{ReadTimeout: 30, WriteTimeout: 30},
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: cfg.Logging.OutputPath})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	go func() { _ = srv.Hub().Run(hubCtx) }()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		hubCancel()
		_ = srv.Shutdown()
	})

	return &testServer{HTTP: ts, srv: srv}
}
