package main

// Unix-only, matching the process-group kill in internal/mlserver.

import (
	"os/exec"
	"syscall"
)

// setProcAttrNewGroup puts cmd in its own process group so mlserver's
// killProcessTree can target the whole group.
func setProcAttrNewGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
