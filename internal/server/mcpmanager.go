package server

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events"
	"github.com/kandev/maestro/internal/events/bus"
	"github.com/kandev/maestro/internal/mcpserver"
	sessionmodels "github.com/kandev/maestro/internal/session/models"
)

// mcpManager starts one mcpserver.Server per spawned session, on an
// ephemeral port, and stops it once the session reaches a terminal status
// or is deleted. Implements session/spawn.MCPStarter.
type mcpManager struct {
	deps   mcpserver.Dependencies
	logger *logger.Logger

	mu      sync.Mutex
	running map[string]*mcpserver.Server
}

func newMCPManager(deps mcpserver.Dependencies, log *logger.Logger) *mcpManager {
	return &mcpManager{deps: deps, logger: log, running: make(map[string]*mcpserver.Server)}
}

// StartSessionMCP implements session/spawn.MCPStarter.
func (m *mcpManager) StartSessionMCP(ctx context.Context, sessionID string, mode sessionmodels.Mode, allowedCommands []string) (string, error) {
	srv := mcpserver.New(mcpserver.Config{
		SessionID:       sessionID,
		Mode:            mode,
		AllowedCommands: allowedCommands,
		Port:            0,
	}, m.deps, m.logger)

	if err := srv.Start(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.running[sessionID] = srv
	m.mu.Unlock()

	return srv.StreamableHTTPEndpoint(), nil
}

// stop shuts down a session's MCP server, if one is running.
func (m *mcpManager) stop(sessionID string) {
	m.mu.Lock()
	srv, ok := m.running[sessionID]
	if ok {
		delete(m.running, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := srv.Stop(context.Background()); err != nil {
		m.logger.Warn("failed to stop session mcp server", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// watch subscribes to every session event and stops a session's MCP server
// once it goes terminal or is removed, so a long-running process never
// accumulates one listener per ever-spawned session.
func (m *mcpManager) watch(eventBus bus.EventBus) (bus.Subscription, error) {
	return eventBus.Subscribe(events.BuildWildcardSubject("session"), func(_ context.Context, evt *bus.Event) error {
		switch evt.Type {
		case events.SessionDeleted:
			if id, ok := evt.Data["sessionId"].(string); ok {
				m.stop(id)
			}
		case events.SessionUpdated:
			state, _ := evt.Data["state"].(string)
			if sessionmodels.Status(state).Terminal() {
				if id, ok := evt.Data["sessionId"].(string); ok {
					m.stop(id)
				}
			}
		}
		return nil
	})
}
