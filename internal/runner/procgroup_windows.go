//go:build windows

package runner

import (
	"os"
	"os/exec"
)

// setupProcessGroup is a no-op on Windows where Setpgid is unavailable.
// Process cleanup relies on cmd.Process.Kill() via the default Cancel behavior.
func setupProcessGroup(cmd *exec.Cmd) {}

func processExitCode(ps *os.ProcessState) int {
	return ps.ExitCode()
}
