// Package broker implements the single entry point for tool invocation
// (spec §4.1): two parallel namespaces, external stdio/http/websocket MCP
// children keyed by server name, and in-process builtin providers keyed by
// the "builtin." name prefix. Grounded on the original runtime's
// MCPServerManager (src-tauri/src/mcp.rs) — same two-namespace shape, same
// "{server}__{tool}" global-uniqueness rewrite, same builtin-prefix dispatch
// rule — generalized from rmcp's typed JSONSchema enum to the repaired
// map[string]interface{} schemas internal/schema already produces, and from
// an HTTP-only ChildServer map (other_examples' calobozan-jb-serve broker)
// to a connection-state machine covering stdio, http, and websocket
// transports.
package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/argnorm"
	"github.com/agentrt/toolrt/internal/rtlog"
	"github.com/agentrt/toolrt/internal/schema"
	"github.com/agentrt/toolrt/pool"
)

// State is a connection's lifecycle stage.
type State int

const (
	Unregistered State = iota
	Spawning
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Spawning:
		return "spawning"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerConfig describes one external MCP server to connect to (spec §4.1).
type ServerConfig struct {
	Name      string
	Command   string
	Args      []string
	Env       map[string]string
	Transport string // "stdio" | "http" | "websocket"
	URL       string
	Port      int

	// Auth carries bearer/OAuth2 credentials for "http" servers. The broker
	// only records and forwards this to the connection; it never itself
	// negotiates a PKCE flow or refresh cycle.
	Auth mcp.AuthProvider
}

// remoteClient is the subset of mcp.Client/mcp.StdioClient the broker needs,
// letting stdio and HTTP connections be dispatched through without the
// broker caring which transport backs a given server.
type remoteClient interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]mcp.MCPTool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.ToolResponse, error)
}

type connection struct {
	config ServerConfig
	state  State
	client remoteClient    // nil for websocket: configuration is recorded only
	stdio  *mcp.StdioClient // non-nil only when config.Transport == "stdio", for Close
}

// Broker is the single entry point for tool invocation across every
// connected external server and every registered builtin provider.
type Broker struct {
	mu       sync.RWMutex
	external map[string]*connection
	builtin  map[string]*mcp.Server // keyed by name, without the "builtin." prefix

	log *rtlog.Logger
}

// New constructs an empty Broker.
func New() *Broker {
	return &Broker{
		external: make(map[string]*connection),
		builtin:  make(map[string]*mcp.Server),
		log:      rtlog.New("broker"),
	}
}

const builtinPrefix = "builtin."

// RegisterBuiltin attaches an in-process provider's already-populated
// mcp.Server under name. Callers address it at call_tool time as
// "builtin.<name>".
func (b *Broker) RegisterBuiltin(name string, server *mcp.Server) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builtin[name] = server
}

// StartServer connects to an external MCP server per config.Transport.
// For "stdio" it spawns the child, performs the MCP handshake, and stores
// the connection under config.Name; a prior connection under the same name
// must be stopped first. For "http" it connects an mcp.Client over
// config.URL, sharing the package-wide pooled HTTP transport (pool.GetPool)
// rather than opening a fresh connection per server. "websocket" only
// records the configuration, mirroring the original's "assume already
// running externally" stance — no pack repo offers a websocket MCP client.
func (b *Broker) StartServer(ctx context.Context, config ServerConfig) (string, error) {
	b.mu.Lock()
	if existing, ok := b.external[config.Name]; ok && existing.state != Closed {
		b.mu.Unlock()
		return "", fmt.Errorf("server %q is already connected; stop it first", config.Name)
	}
	b.external[config.Name] = &connection{config: config, state: Spawning}
	b.mu.Unlock()

	switch config.Transport {
	case "", "stdio":
		return b.startStdioServer(ctx, config)
	case "http":
		return b.startHTTPServer(ctx, config)
	case "websocket":
		b.setState(config.Name, Ready)
		return fmt.Sprintf("WebSocket server configured: %s", config.Name), nil
	default:
		b.removeConnection(config.Name)
		return "", fmt.Errorf("unsupported transport: %s", config.Transport)
	}
}

func (b *Broker) startHTTPServer(ctx context.Context, config ServerConfig) (string, error) {
	if config.URL == "" {
		b.removeConnection(config.Name)
		return "", fmt.Errorf("url is required for http transport")
	}

	client := mcp.NewClientWithHTTPClient(config.URL, config.Auth, pool.GetPool().GetHTTPClient())
	if err := client.Initialize(ctx); err != nil {
		b.removeConnection(config.Name)
		return "", fmt.Errorf("initialize http server %s: %w", config.Name, err)
	}

	b.mu.Lock()
	b.external[config.Name] = &connection{config: config, state: Ready, client: client}
	b.mu.Unlock()

	b.log.Printf("connected http MCP server name=%s url=%s", config.Name, config.URL)
	return fmt.Sprintf("Started and connected to MCP server: %s", config.Name), nil
}

func (b *Broker) startStdioServer(ctx context.Context, config ServerConfig) (string, error) {
	if config.Command == "" {
		b.removeConnection(config.Name)
		return "", fmt.Errorf("command is required for stdio transport")
	}

	env := make([]string, 0, len(config.Env))
	for k, v := range config.Env {
		env = append(env, k+"="+v)
	}

	client, err := mcp.NewStdioClient(ctx, config.Command, config.Args, env)
	if err != nil {
		b.removeConnection(config.Name)
		return "", fmt.Errorf("spawn stdio server %s: %w", config.Name, err)
	}

	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		b.removeConnection(config.Name)
		return "", fmt.Errorf("initialize stdio server %s: %w", config.Name, err)
	}

	b.mu.Lock()
	b.external[config.Name] = &connection{config: config, state: Ready, client: client, stdio: client}
	b.mu.Unlock()

	b.log.Printf("connected stdio MCP server name=%s command=%s", config.Name, config.Command)
	return fmt.Sprintf("Started and connected to MCP server: %s", config.Name), nil
}

func (b *Broker) setState(name string, state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.external[name]; ok {
		conn.state = state
	}
}

func (b *Broker) removeConnection(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.external, name)
}

// StopServer cancels name's connection and removes it. Idempotent for
// unknown names.
func (b *Broker) StopServer(name string) error {
	b.mu.Lock()
	conn, ok := b.external[name]
	if ok {
		delete(b.external, name)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if conn.stdio != nil {
		if err := conn.stdio.Close(); err != nil {
			b.log.Printf("error stopping server name=%s error=%v", name, err)
		}
	}
	conn.state = Closed
	b.log.Printf("stopped MCP server name=%s", name)
	return nil
}

// ListTools queries name for its tool set, repairing each tool's
// input_schema (§4.2) before returning.
func (b *Broker) ListTools(ctx context.Context, name string) ([]mcp.MCPTool, error) {
	b.mu.RLock()
	conn, ok := b.external[name]
	b.mu.RUnlock()
	if !ok || conn.client == nil {
		return nil, fmt.Errorf("server '%s' not found", name)
	}

	tools, err := conn.client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	for i := range tools {
		tools[i].InputSchema = schema.Repair(tools[i].InputSchema)
	}
	return tools, nil
}

// ListAllTools unions ListTools over every connected external server,
// rewriting every tool name to "{server}__{tool}" for global uniqueness.
// Failures of individual servers are logged and skipped, not propagated.
func (b *Broker) ListAllTools(ctx context.Context) []mcp.MCPTool {
	b.mu.RLock()
	names := make([]string, 0, len(b.external))
	for name, conn := range b.external {
		if conn.client != nil {
			names = append(names, name)
		}
	}
	b.mu.RUnlock()

	var all []mcp.MCPTool
	for _, name := range names {
		tools, err := b.ListTools(ctx, name)
		if err != nil {
			b.log.Printf("failed to get tools from server name=%s error=%v", name, err)
			continue
		}
		for _, t := range tools {
			t.Name = name + "__" + t.Name
			all = append(all, t)
		}
	}
	return all
}

// ListAllToolsUnified unions ListAllTools with every registered builtin
// provider's tool set; builtin tools are not prefixed.
func (b *Broker) ListAllToolsUnified(ctx context.Context) []mcp.MCPTool {
	all := b.ListAllTools(ctx)

	b.mu.RLock()
	builtinServers := make(map[string]*mcp.Server, len(b.builtin))
	for name, server := range b.builtin {
		builtinServers[name] = server
	}
	b.mu.RUnlock()

	for _, server := range builtinServers {
		all = append(all, server.ListToolsWithContext(ctx)...)
	}
	return all
}

// BrokerResponse mirrors the original's MCPResponse envelope: a JSON-RPC
// result or a structured error, never both.
type BrokerResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *mcp.MCPError `json:"error,omitempty"`
}

// CallTool dispatches to the builtin registry if server begins with
// "builtin." (the prefix is stripped before lookup), otherwise to the
// named external connection. Arguments are normalized (§4.3) before
// dispatch in both cases.
func (b *Broker) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) *BrokerResponse {
	normalized := argnorm.Normalize(args)

	if strings.HasPrefix(server, builtinPrefix) {
		return b.callBuiltinTool(ctx, strings.TrimPrefix(server, builtinPrefix), tool, normalized)
	}
	return b.callExternalTool(ctx, server, tool, normalized)
}

func (b *Broker) callBuiltinTool(ctx context.Context, providerName, tool string, args map[string]interface{}) *BrokerResponse {
	b.mu.RLock()
	server, ok := b.builtin[providerName]
	b.mu.RUnlock()
	if !ok {
		return &BrokerResponse{JSONRPC: "2.0", Error: &mcp.MCPError{
			Code:    mcp.ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("builtin provider '%s' not found", providerName),
		}}
	}

	resp, err := server.CallTool(ctx, tool, args)
	if err != nil {
		if toolErr, ok := err.(*mcp.ToolError); ok {
			return &BrokerResponse{JSONRPC: "2.0", Error: &mcp.MCPError{Code: toolErr.Code, Message: toolErr.Message, Data: toolErr.Data}}
		}
		return &BrokerResponse{JSONRPC: "2.0", Error: &mcp.MCPError{Code: mcp.ErrorCodeInternalError, Message: err.Error()}}
	}
	return &BrokerResponse{JSONRPC: "2.0", Result: resp}
}

func (b *Broker) callExternalTool(ctx context.Context, serverName, tool string, args map[string]interface{}) *BrokerResponse {
	b.mu.RLock()
	conn, ok := b.external[serverName]
	b.mu.RUnlock()
	if !ok || conn.client == nil {
		return &BrokerResponse{JSONRPC: "2.0", Error: &mcp.MCPError{
			Code:    mcp.ErrorCodeMethodNotFound,
			Message: fmt.Sprintf("server '%s' not found", serverName),
		}}
	}

	resp, err := conn.client.CallTool(ctx, tool, args)
	if err != nil {
		if toolErr, ok := err.(*mcp.ToolError); ok {
			return &BrokerResponse{JSONRPC: "2.0", Error: &mcp.MCPError{Code: toolErr.Code, Message: toolErr.Message, Data: toolErr.Data}}
		}
		return &BrokerResponse{JSONRPC: "2.0", Error: &mcp.MCPError{Code: mcp.ErrorCodeInternalError, Message: err.Error()}}
	}
	return &BrokerResponse{JSONRPC: "2.0", Result: resp}
}

// ValidateToolSchema requires input_schema.kind == object and every name
// in required to appear in properties.
func ValidateToolSchema(tool mcp.MCPTool) error {
	s, ok := tool.InputSchema.(map[string]interface{})
	if !ok {
		return fmt.Errorf("tool '%s' has invalid schema type, expected object", tool.Name)
	}
	if err := schema.Validate(s); err != nil {
		return fmt.Errorf("tool '%s': %w", tool.Name, err)
	}
	return nil
}

// ConnectionState reports name's current lifecycle state, for diagnostics.
func (b *Broker) ConnectionState(name string) (State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.external[name]
	if !ok {
		return Unregistered, false
	}
	return conn.state, true
}
