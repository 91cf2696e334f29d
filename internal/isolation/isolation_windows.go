//go:build windows

package isolation

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// windowsPassthroughVars are the only ambient environment variables carried
// into an isolated child at Basic/Medium level; everything else is dropped.
var windowsPassthroughVars = []string{"HOME", "USERPROFILE", "TEMP", "TMP", "PATH", "SystemRoot", "ComSpec"}

const createNewProcessGroup = 0x00000200

func buildPlatformCmd(cfg Config) (*exec.Cmd, error) {
	shellCmd, shellArgs := windowsShellInvocation(cfg.Command, cfg.Args)

	cmd := exec.Command(shellCmd, shellArgs...)
	cmd.Dir = cfg.WorkspaceDir
	cmd.Env = curatedWindowsEnv(cfg)

	switch cfg.Level {
	case Basic:
		// No process-group isolation; env already curated above.
	case Medium, High:
		cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
	}

	return cmd, nil
}

// windowsShellInvocation picks cmd.exe for plain commands, but bypasses it
// for a command that is itself "powershell"/"pwsh" so callers can pass
// PowerShell-specific flags straight through instead of double-quoting
// through cmd's argument parser.
func windowsShellInvocation(command string, args []string) (string, []string) {
	lower := strings.ToLower(strings.TrimSpace(command))
	if lower == "powershell" || lower == "pwsh" || strings.HasSuffix(lower, "\\powershell.exe") || strings.HasSuffix(lower, "\\pwsh.exe") {
		return command, args
	}
	full := command
	for _, a := range args {
		full += " " + a
	}
	return "cmd", []string{"/S", "/C", full}
}

// curatedWindowsEnv never clears the environment outright (clearing breaks
// DLL search paths and COM activation on Windows); instead it selects a
// fixed allow-list plus HOME/TEMP/TMP pinned at the workspace.
func curatedWindowsEnv(cfg Config) []string {
	env := make([]string, 0, len(windowsPassthroughVars)+len(cfg.EnvVars))
	for _, name := range windowsPassthroughVars {
		switch name {
		case "HOME", "USERPROFILE":
			env = append(env, name+"="+cfg.WorkspaceDir)
		case "TEMP", "TMP":
			env = append(env, name+"="+cfg.WorkspaceDir)
		default:
			if v, ok := os.LookupEnv(name); ok {
				env = append(env, name+"="+v)
			}
		}
	}
	for k, v := range cfg.EnvVars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// ValidateCapabilities probes which isolation levels are usable on this
// host. On Windows, unshare, sandbox-exec and job objects are all reported
// unavailable; High gets the same new-process-group isolation as Medium and
// no job object is applied.
func ValidateCapabilities() Capabilities {
	return Capabilities{
		UnshareAvailable:      false,
		SandboxExecAvailable:  false,
		JobObjectsAvailable:   false,
		ResourceLimitsPlanned: true,
	}
}

// PlatformShellCommand returns the shell used for execute_shell on this
// platform (cmd on Windows).
func PlatformShellCommand() string { return "cmd" }
