//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

// killProcess shells out to taskkill /F, per spec §4.5's platform
// termination rule for Windows (os.Process.Kill alone does not reliably
// tear down a child spawned with its own process group).
func killProcess(p *os.Process) error {
	cmd := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(p.Pid))
	return cmd.Run()
}
