//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detach keeps the app running after the CLI exits
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
