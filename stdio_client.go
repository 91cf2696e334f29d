package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// StdioClient is an MCP client fronting a child process spawned over stdio,
// speaking newline-delimited JSON-RPC 2.0 on the child's stdin/stdout.
// It mirrors Client's Initialize/ListTools/CallTool contract so callers can
// treat stdio and HTTP-transport servers uniformly.
type StdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex
	nextID  int64

	mu          sync.RWMutex
	initialized bool
	cachedTools []MCPTool
}

// NewStdioClient starts command with args and env, wiring its stdin/stdout
// for JSON-RPC framing. The process is not considered ready until
// Initialize succeeds.
func NewStdioClient(ctx context.Context, command string, args []string, env []string) (*StdioClient, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if len(env) > 0 {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio client stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio client stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start stdio server: %w", err)
	}

	return &StdioClient{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReaderSize(stdout, 64*1024),
	}, nil
}

func (c *StdioClient) nextRequestID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

func (c *StdioClient) writeLine(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(data)
	return err
}

func (c *StdioClient) readLine(ctx context.Context) ([]byte, error) {
	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := c.reader.ReadBytes('\n')
		done <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.line, r.err
	}
}

// call sends method/params and blocks for its matching response. The stdio
// transport is used strictly request-then-reply (one in-flight call at a
// time per client), so a simple sequential read after write is sufficient
// rather than tracking ids against a response multiplexer.
func (c *StdioClient) call(ctx context.Context, method string, params interface{}) (*MCPResponse, error) {
	req := MCPRequest{
		JSONRPC: "2.0",
		ID:      c.nextRequestID(),
		Method:  method,
		Params:  params,
	}
	if err := c.writeLine(req); err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	line, err := c.readLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var resp MCPResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	return &resp, nil
}

// Initialize performs the MCP handshake over stdio.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	resp, err := c.call(ctx, "initialize", initializeParams{
		ProtocolVersion: MCPProtocolVersionLatest,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      clientInfo{Name: mcpClientName, Version: mcpClientVersion},
	})
	if err != nil {
		return fmt.Errorf("stdio initialize failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("stdio initialize error: %s", resp.Error.Message)
	}

	c.initialized = true
	return nil
}

// ListTools fetches the child's tool set, caching the result.
func (c *StdioClient) ListTools(ctx context.Context) ([]MCPTool, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	if c.cachedTools != nil {
		result := make([]MCPTool, len(c.cachedTools))
		copy(result, c.cachedTools)
		c.mu.RUnlock()
		return result, nil
	}
	c.mu.RUnlock()

	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("stdio list tools failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("stdio list tools error: code %d", resp.Error.Code)
	}

	var result struct {
		Tools []MCPTool `json:"tools"`
	}
	resultBytes, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal stdio tools result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return nil, fmt.Errorf("parse stdio tools response: %w", err)
	}

	c.mu.Lock()
	c.cachedTools = make([]MCPTool, len(result.Tools))
	copy(c.cachedTools, result.Tools)
	c.mu.Unlock()

	return result.Tools, nil
}

// RefreshToolCache clears and repopulates the cached tool set.
func (c *StdioClient) RefreshToolCache(ctx context.Context) error {
	c.mu.Lock()
	c.cachedTools = nil
	c.mu.Unlock()
	_, err := c.ListTools(ctx)
	return err
}

// CallTool invokes a tool on the child process.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResponse, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("stdio call tool failed: %w", err)
	}
	if resp.Error != nil {
		return nil, &ToolError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}

	var result ToolResult
	resultBytes, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal stdio tool result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, &result); err != nil {
		return nil, fmt.Errorf("parse stdio tool response: %w", err)
	}

	return &ToolResponse{Content: result.Content, StructuredContent: result.StructuredContent}, nil
}

func (c *StdioClient) ensureInitialized(ctx context.Context) error {
	c.mu.RLock()
	ready := c.initialized
	c.mu.RUnlock()
	if ready {
		return nil
	}
	return c.Initialize(ctx)
}

// Close terminates the child process, giving it a short grace period to
// exit after its stdin is closed before killing it outright.
func (c *StdioClient) Close() error {
	var firstErr error

	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.cmd == nil {
		return firstErr
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil && firstErr == nil {
			firstErr = err
		}
	case <-time.After(2 * time.Second):
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
