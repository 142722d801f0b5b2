//go:build windows

package state

import "os"

// killProcess force-kills pid if it is still alive. On Windows
// FindProcess fails for dead pids, which is the liveness probe.
func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
