//go:build !windows

package runner

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/ppiankov/launchpad/internal/task"
)

// setupProcessGroup puts the child process in its own process group and
// overrides cmd.Cancel to kill the entire group on context cancellation.
// This prevents orphan grandchildren when a task timeout or run cancel fires.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
}

// processExitCode maps a finished process to a shell-style exit code:
// the exit status, or 128+signal when it was killed.
func processExitCode(ps *os.ProcessState) int {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		return ps.ExitCode()
	}
	if ws.Signaled() {
		return task.ExitSignalBase + int(ws.Signal())
	}
	return ws.ExitStatus()
}
