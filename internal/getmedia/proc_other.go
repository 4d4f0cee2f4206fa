//go:build !unix && !windows

package getmedia

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
