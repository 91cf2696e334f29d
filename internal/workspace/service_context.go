package workspace

import (
	"fmt"
	"runtime"

	"github.com/agentrt/toolrt/internal/process"
)

// ServiceContext is the sidecar status the broker queries when
// summarizing a builtin provider's health — not a tool, per spec §4.4.
type ServiceContext struct {
	Status         string
	WorkspacePath  string
	Platform       string
	RunningProcs   int
	ToolCount      int
}

// GetServiceContext reports the workspace provider's current status line
// plus a structured snapshot.
func GetServiceContext(registry *process.Registry, sessionID, workspaceDir string, toolCount int) ServiceContext {
	running := 0
	for _, rec := range registry.List(sessionID) {
		if rec.Status == process.Running || rec.Status == process.Starting {
			running++
		}
	}

	return ServiceContext{
		Status:        fmt.Sprintf("workspace ready at %s (%d running process(es))", workspaceDir, running),
		WorkspacePath: workspaceDir,
		Platform:      runtime.GOOS,
		RunningProcs:  running,
		ToolCount:     toolCount,
	}
}
