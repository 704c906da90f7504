package infra

import (
	"os/exec"
	"syscall"
)

// startDetached spawns a command in its own session so it survives the
// daemon and does not share its controlling terminal.
func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}
