package mlserver

import (
	"os"
	"syscall"

	"biowatch/internal/apperr"
)

// processExists is a lightweight liveness probe: signal 0 delivers no
// signal but still reports ESRCH if the process is gone.
func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// killProcessTree sends SIGKILL to the model server's whole process group,
// so a model runtime's own child processes (common for Python-based
// inference servers that fork workers) are reaped along with it. Falls back
// to killing just the tracked PID if the process group can't be resolved.
func killProcessTree(proc *Process) error {
	if pgid, err := syscall.Getpgid(proc.PID); err == nil {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			return apperr.Wrap(apperr.KindIOFailure, err, "force-kill process group for pid %d", proc.PID)
		}
		return nil
	}
	if proc.cmd == nil || proc.cmd.Process == nil {
		return apperr.New(apperr.KindIOFailure, "no process handle to kill for pid %d", proc.PID)
	}
	if err := proc.cmd.Process.Kill(); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, err, "force-kill pid %d", proc.PID)
	}
	return nil
}
