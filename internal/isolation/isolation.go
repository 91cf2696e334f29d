// Package isolation wraps a command, its args, env, and working directory
// into a spawnable handle with one of three isolation levels, per spec
// §4.8. Ported from the runtime's original session_isolation.rs, including
// its platform-specific command construction and capability probe.
package isolation

import (
	"os"
	"os/exec"

	gopsproc "github.com/shirou/gopsutil/v3/process"
)

// Level is one of the three cumulatively stronger sandbox levels.
type Level int

const (
	Basic Level = iota
	Medium
	High
)

func (l Level) String() string {
	switch l {
	case Basic:
		return "basic"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// ParseLevel maps a call-surface isolation_level string ("basic", "medium",
// "high") onto a Level, defaulting to Medium for an empty string. ok is
// false for any other value.
func ParseLevel(s string) (level Level, ok bool) {
	switch s {
	case "", "medium":
		return Medium, true
	case "basic":
		return Basic, true
	case "high":
		return High, true
	default:
		return Medium, false
	}
}

// ResourceLimits are planned (not yet enforced) ceilings on a spawned
// process's resource consumption, carried over from the original's
// ResourceLimits struct for future wiring.
type ResourceLimits struct {
	MaxMemoryMB        *uint64
	MaxExecutionTimeS  *uint64
	MaxOpenFiles       *uint64
}

// Config describes one process to isolate and spawn.
type Config struct {
	SessionID    string
	WorkspaceDir string
	Command      string
	Args         []string
	EnvVars      map[string]string
	Level        Level
}

// Capabilities describes which isolation levels are usable on the current
// host, returned by ValidateCapabilities.
type Capabilities struct {
	UnshareAvailable     bool
	SandboxExecAvailable bool
	JobObjectsAvailable  bool
	ResourceLimitsPlanned bool
}

// Manager builds *exec.Cmd handles at a requested isolation level,
// applying the platform-specific construction rules implemented in
// isolation_unix.go / isolation_windows.go.
type Manager struct{}

// NewManager returns an isolation Manager.
func NewManager() *Manager { return &Manager{} }

// Build constructs an *exec.Cmd for cfg at the requested level, applying
// the platform rules for that level. The caller still needs to set
// Stdout/Stderr/Stdin pipes before starting it.
func (m *Manager) Build(cfg Config) (*exec.Cmd, error) {
	return buildPlatformCmd(cfg)
}

// IsCommandAvailable checks whether name resolves on PATH (mirrors the
// original's is_command_available, used to probe for `unshare`/`sandbox-exec`).
func IsCommandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ProbeHostResourceLimits reports the daemon's own current memory and open
// file-descriptor usage. Build does not consult it; it is a standalone
// probe.
func ProbeHostResourceLimits() (ResourceLimits, error) {
	proc, err := gopsproc.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ResourceLimits{}, err
	}

	limits := ResourceLimits{}

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		mb := mem.RSS / (1024 * 1024)
		limits.MaxMemoryMB = &mb
	}

	if fds, err := proc.NumFDs(); err == nil {
		n := uint64(fds)
		limits.MaxOpenFiles = &n
	}

	return limits, nil
}
