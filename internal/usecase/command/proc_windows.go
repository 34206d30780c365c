//go:build windows

package command

import (
	"errors"
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on Windows; process groups as used on Unix
// do not exist there.
func setProcessGroup(_ *exec.Cmd) {}

// terminateProcessGroup kills the direct child. Windows has no SIGTERM
// equivalent for console processes, so graceful termination degrades to
// a hard kill.
func terminateProcessGroup(cmd *exec.Cmd) error {
	return killProcessGroup(cmd)
}

// killProcessGroup kills the direct child. Descendant processes are not
// tracked on Windows.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
