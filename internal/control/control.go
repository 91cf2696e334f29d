// Package control exposes the call surface spec §6 describes as the
// boundary "downstream to the UI shell": broker lifecycle management
// (start/stop/list/call against external and builtin MCP servers) and
// session lifecycle management (switch/create/list/cleanup/remove), plus
// the isolation capability probe from §4.8. Every other provider in this
// runtime hosts domain tools; this one hosts the management surface that a
// UI shell drives to operate the runtime itself, wired the same way
// workspace and search wire their own tools onto an mcp.Server.
package control

import (
	"context"
	"fmt"
	"time"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/broker"
	"github.com/agentrt/toolrt/internal/isolation"
	"github.com/agentrt/toolrt/internal/process"
	"github.com/agentrt/toolrt/internal/session"
)

// Provider wires the management call surface onto an mcp.Server.
type Provider struct {
	broker    *broker.Broker
	sessions  *session.Manager
	processes *process.Registry
}

// NewProvider constructs a control Provider bound to b, sessions, and the
// process registry whose records must be torn down on session switch/removal
// (spec §4.5's "forcibly terminate and remove every record under the old
// session" rule).
func NewProvider(b *broker.Broker, sessions *session.Manager, processes *process.Registry) *Provider {
	return &Provider{broker: b, sessions: sessions, processes: processes}
}

// Register attaches every management tool to server.
func (p *Provider) Register(server *mcp.Server) {
	server.RegisterTool(
		mcp.NewTool("start_mcp_server", "Connect to an external MCP server (stdio, http, or websocket) and register it under a name").
			AddParam("name", "string", "unique name to register the server under", true).
			AddParam("transport", "string", "\"stdio\", \"http\", or \"websocket\"", true).
			AddParam("command", "string", "executable for stdio transport", false).
			AddParam("args", "array", "command-line arguments for stdio transport", false).
			AddParam("url", "string", "base URL for http transport", false),
		p.handleStartMCPServer,
	)

	server.RegisterTool(
		mcp.NewTool("stop_mcp_server", "Disconnect a previously started external MCP server").
			AddParam("name", "string", "server name passed to start_mcp_server", true),
		p.handleStopMCPServer,
	)

	server.RegisterTool(
		mcp.NewTool("call_mcp_tool", "Invoke a tool on an external or builtin server").
			AddParam("server", "string", "server name, or \"builtin.<provider>\" for a builtin", true).
			AddParam("tool", "string", "tool name", true).
			AddParam("arguments", "object", "tool arguments", false),
		p.handleCallMCPTool,
	)

	server.RegisterTool(
		mcp.NewTool("list_mcp_tools", "List the tools exposed by one external server").
			AddParam("server", "string", "server name passed to start_mcp_server", true),
		p.handleListMCPTools,
	)

	server.RegisterTool(
		mcp.NewTool("list_all_tools", "List every tool across all connected external servers and builtin providers, uniquely named"),
		p.handleListAllTools,
	)

	server.RegisterTool(
		mcp.NewTool("switch_session", "Make an existing session the current session").
			AddParam("id", "string", "session id", true),
		p.handleSwitchSession,
	)

	server.RegisterTool(
		mcp.NewTool("create_session", "Create a new session workspace, optionally drawing from the pre-warmed pool").
			AddParam("id", "string", "session id; generated if omitted", false).
			AddParam("use_pool", "boolean", "take a pre-warmed session from the pool instead of creating fresh", false).
			AddParam("isolation_level", "string", "\"basic\", \"medium\" (default), or \"high\" — the isolation level processes spawned in this session run at", false),
		p.handleCreateSession,
	)

	server.RegisterTool(
		mcp.NewTool("list_all_sessions", "List every known session"),
		p.handleListAllSessions,
	)

	server.RegisterTool(
		mcp.NewTool("cleanup_sessions", "Remove sessions older than max_age_hours, keeping the most recently used keep_recent").
			AddParam("max_age_hours", "number", "maximum session age in hours", true).
			AddParam("keep_recent", "integer", "number of most recent sessions to always keep", false),
		p.handleCleanupSessions,
	)

	server.RegisterTool(
		mcp.NewTool("remove_session", "Remove a single session and its workspace").
			AddParam("id", "string", "session id", true),
		p.handleRemoveSession,
	)

	server.RegisterTool(
		mcp.NewTool("get_isolation_capabilities", "Report which process isolation levels are usable on this host"),
		p.handleGetIsolationCapabilities,
	)
}

func (p *Provider) handleStartMCPServer(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	name, err := req.String("name")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("name is required")
	}
	transport, err := req.String("transport")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("transport is required")
	}
	args, _ := req.StringSlice("args")

	cfg := broker.ServerConfig{
		Name:      name,
		Command:   req.StringOr("command", ""),
		Args:      args,
		Transport: transport,
		URL:       req.StringOr("url", ""),
	}

	msg, err := p.broker.StartServer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(msg), nil
}

func (p *Provider) handleStopMCPServer(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	name, err := req.String("name")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("name is required")
	}
	if err := p.broker.StopServer(name); err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(fmt.Sprintf("stopped %s", name)), nil
}

func (p *Provider) handleCallMCPTool(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	server, err := req.String("server")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("server is required")
	}
	tool, err := req.String("tool")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("tool is required")
	}
	arguments := req.ObjectOr("arguments", map[string]interface{}{})

	resp := p.broker.CallTool(ctx, server, tool, arguments)
	if resp.Error != nil {
		return nil, fmt.Errorf("%s", resp.Error.Message)
	}
	return mcp.NewToolResponseStructured(resp.Result), nil
}

func (p *Provider) handleListMCPTools(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	server, err := req.String("server")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("server is required")
	}
	tools, err := p.broker.ListTools(ctx, server)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponseStructured(map[string]interface{}{"tools": tools}), nil
}

func (p *Provider) handleListAllTools(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	tools := p.broker.ListAllToolsUnified(ctx)
	return mcp.NewToolResponseStructured(map[string]interface{}{"tools": tools}), nil
}

func (p *Provider) handleSwitchSession(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required")
	}
	if _, ok := p.sessions.Get(id); !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}

	// Switching sessions forcibly terminates and removes every process
	// record still owned by the outgoing session before it stops being
	// current (spec §4.5, §8 invariant 5).
	if old := p.sessions.GetCurrentSession(); old != "" && old != id {
		p.processes.OnSessionEnd(old)
	}

	p.sessions.SetSession(id)
	return mcp.NewToolResponseText(fmt.Sprintf("switched to session %s", id)), nil
}

func (p *Provider) handleCreateSession(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id := req.StringOr("id", "")
	usePool := req.BoolOr("use_pool", false)

	levelStr := req.StringOr("isolation_level", "")
	level, ok := isolation.ParseLevel(levelStr)
	if !ok {
		return nil, mcp.NewToolErrorInvalidParams(fmt.Sprintf("invalid isolation_level %q: use \"basic\", \"medium\", or \"high\"", levelStr))
	}

	sess, err := p.sessions.CreateSessionWithLevel(id, usePool, level)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResponseStructured(map[string]interface{}{
		"id":              sess.ID,
		"workspace":       sess.Workspace,
		"isolation_level": sess.IsolationLevel.String(),
	}), nil
}

func (p *Provider) handleListAllSessions(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	sessions := p.sessions.ListSessions()
	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]interface{}{
			"id":         s.ID,
			"workspace":  s.Workspace,
			"created_at": s.CreatedAt,
		})
	}
	return mcp.NewToolResponseStructured(map[string]interface{}{"sessions": out}), nil
}

func (p *Provider) handleCleanupSessions(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	maxAgeHours, err := req.Float("max_age_hours")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("max_age_hours is required")
	}
	keepRecent := req.IntOr("keep_recent", 0)

	maxAge := time.Duration(maxAgeHours * float64(time.Hour))
	removed := p.sessions.CleanupOldSessions(maxAge, keepRecent)
	return mcp.NewToolResponseStructured(map[string]interface{}{"removed": removed}), nil
}

func (p *Provider) handleRemoveSession(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required")
	}

	// session.Manager.RemoveSession does not itself terminate processes
	// still running under id; the process registry must be told first so
	// no record with session_id == id survives removal (§8 invariant 5).
	p.processes.OnSessionEnd(id)

	if err := p.sessions.RemoveSession(id); err != nil {
		return nil, err
	}
	return mcp.NewToolResponseText(fmt.Sprintf("removed session %s", id)), nil
}

func (p *Provider) handleGetIsolationCapabilities(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	caps := isolation.ValidateCapabilities()
	return mcp.NewToolResponseStructured(map[string]interface{}{
		"unshare_available":      caps.UnshareAvailable,
		"sandbox_exec_available": caps.SandboxExecAvailable,
		"job_objects_available":  caps.JobObjectsAvailable,
		"resource_limits_planned": caps.ResourceLimitsPlanned,
	}), nil
}
