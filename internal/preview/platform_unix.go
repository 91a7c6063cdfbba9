//go:build !windows

package preview

import (
	"os"
	"os/exec"
	"syscall"
)

// setupProcessGroup puts the dev server in its own process group so its
// child processes (bundler workers and such) die with it.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGraceful asks the process group to shut down.
func signalGraceful(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGTERM)
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
}

// signalForce kills the process group outright.
func signalForce(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGKILL)
	}
	cmd.Process.Kill()
}

// processAlive checks liveness with a null signal.
func processAlive(cmd *exec.Cmd) bool {
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}

// exitWasClean reports whether a completed process ended by a zero exit
// code or a termination/interrupt signal. Anything else is a crash.
func exitWasClean(state *os.ProcessState) bool {
	if state == nil {
		return false
	}
	if state.ExitCode() == 0 {
		return true
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return false
	}
	switch ws.Signal() {
	case syscall.SIGTERM, syscall.SIGINT:
		return true
	}
	return false
}
