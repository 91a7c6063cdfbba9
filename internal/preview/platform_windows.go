//go:build windows

package preview

import (
	"os"
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {}

// Windows has no gentle signal for a console child; graceful and forced
// termination collapse into Kill.
func signalGraceful(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func signalForce(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// No null-signal liveness check on Windows; assume a handle means alive
// and let the exit watcher correct the record.
func processAlive(cmd *exec.Cmd) bool {
	return cmd != nil && cmd.Process != nil
}

func exitWasClean(state *os.ProcessState) bool {
	if state == nil {
		return false
	}
	switch state.ExitCode() {
	case 0, 1:
		return true
	}
	return false
}
