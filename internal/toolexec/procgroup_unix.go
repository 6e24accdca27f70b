//go:build !windows

package toolexec

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup puts the command in its own process group and makes
// cancellation kill the whole group.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
}
