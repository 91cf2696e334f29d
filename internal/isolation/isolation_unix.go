//go:build !windows

package isolation

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// curatedUnixPath is the restricted PATH used at Basic and Medium
// isolation on Unix, per spec §4.8's "Platform quirks made explicit".
const curatedUnixPath = "/bin:/usr/bin:/usr/local/bin"

func buildPlatformCmd(cfg Config) (*exec.Cmd, error) {
	shellCmd, shellArgs := unixShellInvocation(cfg.Command, cfg.Args)

	cmd := exec.Command(shellCmd, shellArgs...)
	cmd.Dir = cfg.WorkspaceDir

	switch cfg.Level {
	case Basic:
		cmd.Env = curatedUnixEnv(cfg)
	case Medium:
		cmd.Env = curatedUnixEnv(cfg)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	case High:
		if IsCommandAvailable("unshare") {
			unshareArgs := append([]string{"--user", "--pid", "--mount", "--fork", "--", shellCmd}, shellArgs...)
			cmd = exec.Command("unshare", unshareArgs...)
			cmd.Dir = cfg.WorkspaceDir
			cmd.Env = curatedUnixEnv(cfg)
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		} else if macOSSandboxAvailable() {
			profile := macSandboxProfile(cfg.WorkspaceDir)
			cmd = exec.Command("sandbox-exec", "-p", profile, shellCmd)
			cmd.Args = append(cmd.Args, shellArgs...)
			cmd.Dir = cfg.WorkspaceDir
			cmd.Env = curatedUnixEnv(cfg)
		} else {
			// Degrade to Medium when the required binary is absent.
			cmd.Env = curatedUnixEnv(cfg)
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		}
	}

	return cmd, nil
}

func unixShellInvocation(command string, args []string) (string, []string) {
	full := command
	for _, a := range args {
		full += " " + a
	}
	return "sh", []string{"-c", full}
}

// curatedUnixEnv clears the environment and rebuilds it with a restricted
// PATH and HOME pinned at the workspace, plus any caller-supplied env vars.
func curatedUnixEnv(cfg Config) []string {
	env := []string{
		"PATH=" + curatedUnixPath,
		"HOME=" + cfg.WorkspaceDir,
		"PWD=" + cfg.WorkspaceDir,
		"TMPDIR=" + os.TempDir(),
	}
	for k, v := range cfg.EnvVars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func macOSSandboxAvailable() bool {
	return IsCommandAvailable("sandbox-exec")
}

// macSandboxProfile builds the macOS sandbox-exec profile: deny by default,
// allow reads of system frameworks, RW on the workspace and /tmp, and
// network allowed.
func macSandboxProfile(workspaceDir string) string {
	return fmt.Sprintf(`(version 1)
(deny default)
(allow process-info* (target self))
(allow signal (target self))
(allow sysctl-read)
(allow file-read* (subpath "/System/Library"))
(allow file-read* (subpath "/usr/lib"))
(allow file-read* (subpath "/usr/bin"))
(allow file-read* (subpath "/bin"))
(allow file-read* file-write* file-ioctl (subpath %q))
(allow file-read* file-write* file-ioctl (subpath "/tmp"))
(allow file-read* file-write* file-ioctl (subpath "/var/tmp"))
(allow network*)
(deny file-read* file-write* (subpath "/private"))
`, workspaceDir)
}

// ValidateCapabilities probes which isolation levels are usable on this
// host.
func ValidateCapabilities() Capabilities {
	return Capabilities{
		UnshareAvailable:      IsCommandAvailable("unshare"),
		SandboxExecAvailable:  macOSSandboxAvailable(),
		JobObjectsAvailable:   false,
		ResourceLimitsPlanned: true,
	}
}

// PlatformShellCommand returns the shell used for execute_shell on this
// platform (sh on Unix).
func PlatformShellCommand() string { return "sh" }
