//go:build unix

package getmedia

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the tool in its own process group so a kill after
// the shutdown grace period also reaches its children.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
