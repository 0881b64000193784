package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/logger"
	messagemodels "github.com/kandev/maestro/internal/message/models"
	sessionmodels "github.com/kandev/maestro/internal/session/models"
	"github.com/kandev/maestro/internal/session/spawn"
	taskmodels "github.com/kandev/maestro/internal/task/models"
)

// Dependencies are the cross-domain calls a session's MCP tools delegate to.
// Defined here, not in the sibling packages' service types, so mcpserver
// stays the only package that needs to know all four at once.
type Dependencies interface {
	SetSessionStatus(ctx context.Context, taskID, sessionID string, status taskmodels.SessionStatus) error
	RecordEvent(ctx context.Context, sessionID, kind, message string) (*sessionmodels.Session, error)
	SendMessage(ctx context.Context, fromSessionID, toSessionID, body string, metadata messagemodels.Metadata) (*messagemodels.Message, error)
	Spawn(ctx context.Context, req spawn.Request) (*spawn.Result, error)
}

// permissionOf names the manifest permission each tool requires; a tool is
// only registered, and only accepted at call time, when its permission is
// in the session's resolved allowedCommands set (SPEC_FULL §4.4).
const (
	permTaskReport    = "task:report"
	permSessionReport = "session:report"
	permMessageSend   = "message:send"
	permSessionSpawn  = "session:spawn"
)

func registerTools(s *server.MCPServer, cfg Config, deps Dependencies, log *logger.Logger) {
	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, cmd := range cfg.AllowedCommands {
		allowed[cmd] = true
	}

	registered := 0
	if allowed[permTaskReport] {
		s.AddTool(
			mcp.NewTool("task.report_status",
				mcp.WithDescription("Report this session's progress on a task: queued, working, blocked, completed, failed, or skipped."),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("The task this session is working on")),
				mcp.WithString("status", mcp.Required(), mcp.Description("One of: queued, working, blocked, completed, failed, skipped")),
			),
			reportStatusHandler(cfg, deps, allowed, log),
		)
		registered++
	}

	if allowed[permSessionReport] {
		s.AddTool(
			mcp.NewTool("session.report_event",
				mcp.WithDescription("Append a telemetry note to this session's timeline, visible to anyone watching the session."),
				mcp.WithString("kind", mcp.Required(), mcp.Description("A short event category, e.g. progress, warning, note")),
				mcp.WithString("message", mcp.Required(), mcp.Description("The event's free-form text")),
			),
			reportEventHandler(cfg, deps, allowed, log),
		)
		registered++
	}

	if allowed[permMessageSend] {
		s.AddTool(
			mcp.NewTool("message.send",
				mcp.WithDescription("Send mail to another session in the same project. If the recipient's session has already ended, the message is stored as expired and the sender is notified."),
				mcp.WithString("to", mcp.Required(), mcp.Description("The recipient session id")),
				mcp.WithString("body", mcp.Required(), mcp.Description("The message body")),
				mcp.WithString("task_id", mcp.Description("Optional related task id")),
				mcp.WithString("priority", mcp.Description("Optional priority hint")),
			),
			sendMessageHandler(cfg, deps, allowed, log),
		)
		registered++
	}

	if allowed[permSessionSpawn] {
		s.AddTool(
			mcp.NewTool("session.spawn_worker",
				mcp.WithDescription("Spawn a worker session delegating a subtask to a named team member."),
				mcp.WithString("project_id", mcp.Required(), mcp.Description("The project to spawn within")),
				mcp.WithString("task_id", mcp.Required(), mcp.Description("The task to delegate")),
				mcp.WithString("team_member_id", mcp.Description("The team member to spawn as, if not the default")),
			),
			spawnWorkerHandler(cfg, deps, allowed, log),
		)
		registered++
	}

	log.Info("registered session mcp tools", zap.String("session_id", cfg.SessionID), zap.Int("count", registered))
}

// requirePermission is the server-side re-check: a tool's handler never
// trusts that it was only invoked because it was registered, matching the
// reference's own listen-and-check pattern in internal/mcp/handlers.
func requirePermission(allowed map[string]bool, perm string) error {
	if !allowed[perm] {
		return fmt.Errorf("permission %q is not granted to this session", perm)
	}
	return nil
}

func reportStatusHandler(cfg Config, deps Dependencies, allowed map[string]bool, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := requirePermission(allowed, permTaskReport); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		status, err := req.RequireString("status")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := deps.SetSessionStatus(ctx, taskID, cfg.SessionID, taskmodels.SessionStatus(status)); err != nil {
			log.Error("task.report_status failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("failed to report status: %v", err)), nil
		}
		return mcp.NewToolResultText("status reported"), nil
	}
}

func reportEventHandler(cfg Config, deps Dependencies, allowed map[string]bool, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := requirePermission(allowed, permSessionReport); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if _, err := deps.RecordEvent(ctx, cfg.SessionID, kind, message); err != nil {
			log.Error("session.report_event failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("failed to record event: %v", err)), nil
		}
		return mcp.NewToolResultText("event recorded"), nil
	}
}

func sendMessageHandler(cfg Config, deps Dependencies, allowed map[string]bool, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := requirePermission(allowed, permMessageSend); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		to, err := req.RequireString("to")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		body, err := req.RequireString("body")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		metadata := messagemodels.Metadata{
			TaskID:   req.GetString("task_id", ""),
			Priority: req.GetString("priority", ""),
		}
		msg, err := deps.SendMessage(ctx, cfg.SessionID, to, body, metadata)
		if err != nil {
			log.Error("message.send failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("message %s sent to %s", msg.ID, to)), nil
	}
}

func spawnWorkerHandler(cfg Config, deps Dependencies, allowed map[string]bool, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := requirePermission(allowed, permSessionSpawn); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		teamMemberID := req.GetString("team_member_id", "")

		result, err := deps.Spawn(ctx, spawn.Request{
			ProjectID:    projectID,
			TaskIDs:      []string{taskID},
			Mode:         sessionmodels.ModeWorker,
			TeamMemberID: teamMemberID,
			Source:       sessionmodels.SourceSession,
		})
		if err != nil {
			log.Error("session.spawn_worker failed", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("failed to spawn worker: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("spawned session %s", result.SessionID)), nil
	}
}
