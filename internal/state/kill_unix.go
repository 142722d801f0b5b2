//go:build !windows

package state

import (
	"os"
	"syscall"
)

// killProcess force-kills pid if it is still alive. Returns an error
// when the process does not exist (nothing was killed).
func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	// Signal 0 probes liveness without delivering anything
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return err
	}
	return proc.Kill()
}
