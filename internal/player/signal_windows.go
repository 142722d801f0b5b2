//go:build windows

package player

import (
	"errors"
	"os"
)

// Windows has no stop/continue signals; pause is a defined no-op there.
var errUnsupported = errors.New("not supported on windows")

func suspendProcess(p *os.Process) error {
	return errUnsupported
}

func resumeProcess(p *os.Process) error {
	return errUnsupported
}

func terminateProcess(p *os.Process) error {
	return p.Kill()
}
