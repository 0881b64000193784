// Package mcpserver exposes a session's resolved permission set (spec §4.4)
// as a literal set of MCP tools, over both the SSE and Streamable HTTP
// transports, served on a dedicated per-session port.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/logger"
	sessionmodels "github.com/kandev/maestro/internal/session/models"
)

// Config holds the per-session MCP server configuration.
type Config struct {
	SessionID       string
	Mode            sessionmodels.Mode
	AllowedCommands []string // the manifest's resolved permission set
	Port            int      // 0 picks an ephemeral port
}

// Server wraps the SSE and Streamable HTTP transports with lifecycle
// management, scoped to a single session's permission set.
type Server struct {
	cfg        Config
	deps       Dependencies
	sse        *server.SSEServer
	streamable *server.StreamableHTTPServer
	http       *http.Server
	mu         sync.Mutex
	running    bool
	logger     *logger.Logger
}

// New creates a Server for one session. Only tools permitted by
// cfg.AllowedCommands are registered; every handler still re-checks its
// permission at call time (belt-and-suspenders, per SPEC_FULL §4.4).
func New(cfg Config, deps Dependencies, log *logger.Logger) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithFields(zap.String("session_id", cfg.SessionID)),
	}
}

// Start registers the permitted tools and begins serving on cfg.Port,
// returning once listening (or ctx is cancelled first).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mcp server for session %s already running", s.cfg.SessionID)
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"maestro-session-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, s.cfg, s.deps, s.logger)

	s.sse = server.NewSSEServer(mcpServer)
	s.streamable = server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sse.SSEHandler())
	mux.Handle("/message", s.sse.MessageHandler())
	mux.Handle("/mcp", s.streamable)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.http = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("session mcp server listening", zap.Int("port", s.cfg.Port))
		if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("session mcp server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down both transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown session mcp server: %w", err)
		}
	}
	if s.sse != nil {
		if err := s.sse.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown sse transport", zap.Error(err))
		}
	}
	if s.streamable != nil {
		if err := s.streamable.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown streamable http transport", zap.Error(err))
		}
	}
	return nil
}

// StreamableHTTPEndpoint returns the URL an agent process should use when
// connecting over Streamable HTTP, embedded in the manifest's system
// envelope.
func (s *Server) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/mcp", s.cfg.Port)
}
