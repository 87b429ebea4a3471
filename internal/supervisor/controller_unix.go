//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr places the child in its own process group so the supervisor
// can signal the daemon and any children it forks without touching the
// gateway process itself.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminateProcess sends SIGTERM to the process group (falling back to the
// single process if the group cannot be resolved). A missing process is
// not an error: the daemon may have exited between checks.
func terminateProcess(pid int) error {
	return signalProcessGroup(pid, unix.SIGTERM)
}

// killProcess sends SIGKILL to the process group.
func killProcess(pid int) error {
	return signalProcessGroup(pid, unix.SIGKILL)
}

func signalProcessGroup(pid int, sig unix.Signal) error {
	var err error
	if pgid, pgErr := unix.Getpgid(pid); pgErr == nil && pgid > 0 {
		err = unix.Kill(-pgid, sig)
	} else {
		err = unix.Kill(pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// exitSignal returns the name of the signal that terminated the process,
// or "" if it exited on its own.
func exitSignal(state *os.ProcessState) string {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return unix.SignalName(ws.Signal())
}
