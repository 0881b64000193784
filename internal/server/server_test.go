package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kandev/maestro/internal/common/config"
	"github.com/kandev/maestro/internal/common/logger"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Data:    config.DataConfig{Dir: t.TempDir()},
		Spawn:   config.SpawnConfig{MaxActivePerTask: 5, DefaultTimeoutSeconds: 3600},
		Message: config.MessageConfig{TTLSeconds: 72 * 3600, RateLimitPerMinute: 60, SweepIntervalSeconds: 0},
		Logging: config.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"},
		Server:  config.ServerConfig{ReadTimeout: 30, WriteTimeout: 30},
	}
}

func newTestServerForUnitTests(t *testing.T) *Server {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	srv, err := New(newTestConfig(t), log)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestCORSMiddlewareAllowsAnyOrigin(t *testing.T) {
	srv := newTestServerForUnitTests(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected Access-Control-Allow-Origin: *, got %q", got)
	}
}

func TestCORSMiddlewareShortCircuitsPreflight(t *testing.T) {
	srv := newTestServerForUnitTests(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/projects", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for a preflight OPTIONS request, got %d", resp.StatusCode)
	}
}

func TestHealthEndpointReportsOK(t *testing.T) {
	srv := newTestServerForUnitTests(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := newTestServerForUnitTests(t)

	if err := srv.Shutdown(); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := srv.Shutdown(); err != nil {
		t.Fatalf("expected a second shutdown to be safe, got %v", err)
	}
}
