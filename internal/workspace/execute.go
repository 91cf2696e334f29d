package workspace

import (
	"bytes"
	"context"
	"fmt"
	"time"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/argnorm"
	"github.com/agentrt/toolrt/internal/config"
	"github.com/agentrt/toolrt/internal/isolation"
	"github.com/agentrt/toolrt/internal/process"
)

// ExecuteShellOptions describes one execute_shell invocation.
type ExecuteShellOptions struct {
	SessionID    string
	WorkspaceDir string
	Command      string
	Timeout      *uint64 // seconds; defaults to config.DefaultExecutionTimeout(), capped at MaxExecutionTimeout()
	WorkingDir   string  // defaults to WorkspaceDir
	Async        bool
	Level        isolation.Level // the owning session's isolation level (§4.8)
}

// ExecuteShellResult is returned for a synchronous execute_shell call.
type ExecuteShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// ExecuteShellAsync spawns the normalized command through the process
// registry and returns its process id immediately. The isolation manager's
// platform-specific Build wraps the normalized command in the host shell
// (sh -c / cmd /S /C), so the registry is handed the raw command string.
func ExecuteShellAsync(registry *process.Registry, opts ExecuteShellOptions) (string, error) {
	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = opts.WorkspaceDir
	}

	return registry.Spawn(process.SpawnOptions{
		SessionID:    opts.SessionID,
		WorkspaceDir: workingDir,
		Command:      normalizeCommand(opts.Command),
		Level:        opts.Level,
	})
}

// ExecuteShellSync runs the normalized command via the isolation manager,
// awaiting full output in-memory within a timeout (default
// config.DefaultExecutionTimeout(), capped at config.MaxExecutionTimeout()).
func ExecuteShellSync(isolationMgr *isolation.Manager, opts ExecuteShellOptions) (ExecuteShellResult, error) {
	timeoutSecs := config.DefaultExecutionTimeout()
	if opts.Timeout != nil {
		timeoutSecs = *opts.Timeout
	}
	if max := config.MaxExecutionTimeout(); timeoutSecs > max {
		timeoutSecs = max
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = opts.WorkspaceDir
	}

	cmd, err := isolationMgr.Build(isolation.Config{
		SessionID:    opts.SessionID,
		WorkspaceDir: workingDir,
		Command:      normalizeCommand(opts.Command),
		Level:        opts.Level,
	})
	if err != nil {
		return ExecuteShellResult{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	if err := cmd.Start(); err != nil {
		return ExecuteShellResult{}, fmt.Errorf("start process: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Timeout expiry fires the cancellation handle; per spec §5 this is
		// reported as an internal error, not a successful timed-out result.
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		return ExecuteShellResult{}, mcp.NewToolErrorInternal(fmt.Sprintf("command timed out after %ds", timeoutSecs))
	case err := <-done:
		code := cmd.ProcessState.ExitCode()
		_ = err
		return ExecuteShellResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}, nil
	}
}

func normalizeCommand(command string) string {
	return argnorm.NormalizeShellCommand(command)
}
