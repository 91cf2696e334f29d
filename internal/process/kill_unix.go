//go:build !windows

package process

import (
	"os"
	"syscall"
)

// killProcess sends SIGTERM to p, per spec §4.5's platform termination
// rule for Unix.
func killProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
